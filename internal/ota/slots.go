package ota

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Flasher installs a verified image.
type Flasher interface {
	// Install writes the image at path to the inactive slot and makes it
	// the boot target. On error the running slot must be untouched.
	Install(path, version string) error
}

// Slot names.
const (
	SlotA = "a"
	SlotB = "b"
)

const (
	pointerFile = "current"
	imageFile   = "firmware.bin"
	versionFile = "VERSION"
)

// SlotFlasher keeps two firmware slots under dir:
//
//	dir/current          name of the boot slot ("a" or "b")
//	dir/slot-a/firmware.bin, dir/slot-a/VERSION
//	dir/slot-b/...
//
// The slot the process booted from is read once at construction and is
// never written; every install goes to the other slot. The pointer is
// switched with a rename, so a crash leaves either the old or the new slot
// selected, never a mix.
type SlotFlasher struct {
	dir     string
	running string
}

// NewSlotFlasher creates a flasher rooted at dir. The current boot pointer
// is taken as the running slot.
func NewSlotFlasher(dir string) (*SlotFlasher, error) {
	f := &SlotFlasher{dir: dir}
	running, err := f.Active()
	if err != nil {
		return nil, fmt.Errorf("read slot pointer: %w", err)
	}
	f.running = running
	return f, nil
}

// Active returns the boot slot. A missing pointer means slot a.
func (f *SlotFlasher) Active() (string, error) {
	b, err := os.ReadFile(filepath.Join(f.dir, pointerFile))
	if os.IsNotExist(err) {
		return SlotA, nil
	}
	if err != nil {
		return "", err
	}
	switch s := strings.TrimSpace(string(b)); s {
	case SlotA, SlotB:
		return s, nil
	default:
		return "", fmt.Errorf("slot pointer holds %q", s)
	}
}

// Running returns the slot the process booted from.
func (f *SlotFlasher) Running() string {
	return f.running
}

// RunningVersion returns the version recorded in the running slot, or ""
// if the slot carries none (e.g. a factory image).
func (f *SlotFlasher) RunningVersion() string {
	return f.Version(f.running)
}

// Version returns the version installed in slot, or "" if none.
func (f *SlotFlasher) Version(slot string) string {
	b, err := os.ReadFile(filepath.Join(f.slotDir(slot), versionFile))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(b))
}

// Install implements Flasher. A previously staged image in the other slot
// is replaced; the boot pointer is moved back to the running slot while
// that slot is rewritten.
func (f *SlotFlasher) Install(path, version string) error {
	target := SlotB
	if f.running == SlotB {
		target = SlotA
	}

	active, err := f.Active()
	if err != nil {
		return fmt.Errorf("read slot pointer: %w", err)
	}
	if active == target {
		if err := f.switchTo(f.running); err != nil {
			return err
		}
	}

	dir := f.slotDir(target)
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("clear slot %s: %w", target, err)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create slot %s: %w", target, err)
	}
	if err := copyFile(path, filepath.Join(dir, imageFile)); err != nil {
		os.RemoveAll(dir)
		return fmt.Errorf("write slot %s: %w", target, err)
	}
	if err := writeFileSync(filepath.Join(dir, versionFile), []byte(version+"\n")); err != nil {
		os.RemoveAll(dir)
		return fmt.Errorf("write slot %s version: %w", target, err)
	}
	if err := f.switchTo(target); err != nil {
		os.RemoveAll(dir)
		return err
	}
	return nil
}

func (f *SlotFlasher) switchTo(slot string) error {
	tmp := filepath.Join(f.dir, pointerFile+".tmp")
	if err := writeFileSync(tmp, []byte(slot+"\n")); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("write slot pointer: %w", err)
	}
	if err := os.Rename(tmp, filepath.Join(f.dir, pointerFile)); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("switch slot pointer: %w", err)
	}
	return nil
}

func (f *SlotFlasher) slotDir(slot string) string {
	return filepath.Join(f.dir, "slot-"+slot)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Sync(); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func writeFileSync(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
