package power

import (
	"fmt"
	"os"
	"strconv"
)

// SysfsCPU caps the CPU clock through the cpufreq sysfs interface.
type SysfsCPU struct {
	path string // e.g. /sys/devices/system/cpu/cpu0/cpufreq/scaling_max_freq
}

// NewSysfsCPU creates a CPU actuator writing to path.
func NewSysfsCPU(path string) *SysfsCPU {
	return &SysfsCPU{path: path}
}

// SetFrequency writes hz to the sysfs file, which takes kHz.
func (c *SysfsCPU) SetFrequency(hz uint32) error {
	khz := strconv.FormatUint(uint64(hz/1000), 10)
	if err := os.WriteFile(c.path, []byte(khz+"\n"), 0644); err != nil {
		return fmt.Errorf("write %s: %w", c.path, err)
	}
	return nil
}
