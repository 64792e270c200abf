package mqtt

import (
	"encoding/json"
	"fmt"

	"github.com/electron-rare/le-mystere-professeur-zacus-sub000/internal/bundle"
)

// Announcement is the retained message devices read to learn which bundle
// is deployed.
type Announcement struct {
	BundleVersion int           `json:"bundle_version"`
	SpecHash      string        `json:"spec_hash"`
	Scenarios     []string      `json:"scenarios"`
	Counts        bundle.Counts `json:"counts"`
}

// NewAnnouncement summarizes a bundle manifest.
func NewAnnouncement(m bundle.Manifest) Announcement {
	ids := make([]string, 0, len(m.Scenarios))
	for _, sc := range m.Scenarios {
		ids = append(ids, sc.ID)
	}
	return Announcement{
		BundleVersion: m.BundleVersion,
		SpecHash:      m.SpecHash,
		Scenarios:     ids,
		Counts:        m.Counts,
	}
}

// Publisher is the part of Client an Announcer needs.
type Publisher interface {
	Connect() error
	Publish(topic string, payload []byte, retained bool) error
	Disconnect()
}

// Announcer publishes bundle announcements on a fixed topic.
type Announcer struct {
	pub   Publisher
	topic string
}

func NewAnnouncer(pub Publisher, topic string) *Announcer {
	return &Announcer{pub: pub, topic: topic}
}

// Topic returns the topic announcements are published to.
func (a *Announcer) Topic() string {
	return a.topic
}

// Announce connects, publishes the retained announcement, and disconnects.
func (a *Announcer) Announce(m bundle.Manifest) (Announcement, error) {
	msg := NewAnnouncement(m)
	payload, err := json.Marshal(msg)
	if err != nil {
		return msg, fmt.Errorf("failed to marshal announcement: %w", err)
	}

	if err := a.pub.Connect(); err != nil {
		return msg, fmt.Errorf("connect: %w", err)
	}
	defer a.pub.Disconnect()

	if err := a.pub.Publish(a.topic, payload, true); err != nil {
		return msg, fmt.Errorf("publish %s: %w", a.topic, err)
	}
	return msg, nil
}
