package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/electron-rare/le-mystere-professeur-zacus-sub000/internal/story"
)

// Anchor identifies the firmware root.
const Anchor = "platformio.ini"

// Default locations relative to the firmware root.
const (
	DefaultSpecDir    = "story_specs/scenarios"
	DefaultGameDir    = "game/scenarios"
	DefaultCppOutDir  = "src/story/generated"
	DefaultBundleRoot = "artifacts/story_fs/deploy"
)

// Overrides carries explicit CLI values; empty fields are unset.
type Overrides struct {
	FirmwareRoot string
	ConfigFile   string
	SpecDir      string
	GameDir      string
	ContentDir   string
	CppOutDir    string
	BundleRoot   string
}

// Paths is the resolved set of pipeline locations.
type Paths struct {
	FirmwareRoot string
	SpecDir      string
	GameDir      string
	// GameDirExplicit is set when the game directory came from a flag or
	// the tool config; a missing explicit directory is an error.
	GameDirExplicit bool
	ContentDir      string
	CppOutDir       string
	BundleRoot      string
}

// FindFirmwareRoot walks from start up to the filesystem root looking for
// a directory holding the anchor, directly or under hardware/firmware.
func FindFirmwareRoot(start string) (string, error) {
	dir, err := filepath.Abs(start)
	if err != nil {
		return "", story.NewConfigurationError("resolve firmware root", start, err)
	}
	for {
		for _, candidate := range []string{dir, filepath.Join(dir, "hardware", "firmware")} {
			if fileExists(filepath.Join(candidate, Anchor)) {
				return candidate, nil
			}
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", story.NewConfigurationError("resolve firmware root", start,
				fmt.Errorf("no %s found in any parent directory", Anchor))
		}
		dir = parent
	}
}

// Resolve derives every location: flag > tool config > default. The tool
// config is read from the firmware root unless ov.ConfigFile names one.
func Resolve(cwd string, ov Overrides) (*Paths, *ToolConfig, error) {
	root := ov.FirmwareRoot
	if root != "" {
		abs, err := filepath.Abs(root)
		if err != nil || !dirExists(abs) {
			return nil, nil, story.NewConfigurationError("resolve firmware root", root, errMissing(err))
		}
		root = abs
	} else {
		found, err := FindFirmwareRoot(cwd)
		if err != nil {
			return nil, nil, err
		}
		root = found
	}

	var (
		cfg *ToolConfig
		err error
	)
	if ov.ConfigFile != "" {
		cfg, err = LoadToolConfig(ov.ConfigFile)
		if err != nil {
			return nil, nil, story.NewConfigurationError("load config", ov.ConfigFile, err)
		}
	} else {
		cfgPath := filepath.Join(root, FileName)
		cfg, err = LoadOptionalToolConfig(cfgPath)
		if err != nil {
			return nil, nil, story.NewConfigurationError("load config", cfgPath, err)
		}
	}

	p := &Paths{
		FirmwareRoot:    root,
		SpecDir:         pick(root, ov.SpecDir, cfg.Paths.SpecDir, DefaultSpecDir),
		GameDir:         pick(root, ov.GameDir, cfg.Paths.GameDir, DefaultGameDir),
		GameDirExplicit: ov.GameDir != "" || cfg.Paths.GameDir != "",
		CppOutDir:       pick(root, ov.CppOutDir, cfg.Paths.CppOutDir, DefaultCppOutDir),
		BundleRoot:      pick(root, ov.BundleRoot, cfg.Paths.BundleRoot, DefaultBundleRoot),
	}

	if ov.ContentDir != "" || cfg.Paths.ContentDir != "" {
		p.ContentDir = pick(root, ov.ContentDir, cfg.Paths.ContentDir, "")
		if !dirExists(p.ContentDir) {
			return nil, nil, story.NewConfigurationError("resolve content dir", p.ContentDir, errMissing(nil))
		}
	} else {
		// Content sits next to the scenarios directory.
		p.ContentDir = filepath.Join(filepath.Dir(p.SpecDir), "content")
	}

	if ov.SpecDir != "" && !fileExists(p.SpecDir) && !dirExists(p.SpecDir) {
		return nil, nil, story.NewConfigurationError("resolve spec dir", p.SpecDir, errMissing(nil))
	}
	return p, cfg, nil
}

// ScreenPalette is the canonical palette used by sync-screens.
func (p *Paths) ScreenPalette() string {
	return story.ContentFile(p.ContentDir, story.ContentScreens)
}

// pick returns the first non-empty value, made absolute against root.
// Flags are resolved against the working directory instead.
func pick(root, flag, fromConfig, fallback string) string {
	if flag != "" {
		if abs, err := filepath.Abs(flag); err == nil {
			return abs
		}
		return flag
	}
	v := fromConfig
	if v == "" {
		v = fallback
	}
	if filepath.IsAbs(v) {
		return v
	}
	return filepath.Join(root, v)
}

func errMissing(err error) error {
	if err != nil {
		return err
	}
	return errors.New("path does not exist")
}

func fileExists(p string) bool {
	info, err := os.Stat(p)
	return err == nil && info.Mode().IsRegular()
}

func dirExists(p string) bool {
	info, err := os.Stat(p)
	return err == nil && info.IsDir()
}
