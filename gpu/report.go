package gpu

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"
)

// Report summarizes the selected adapter and the launch geometry derived
// from its limits.
type Report struct {
	WhenISO     string   `json:"when_iso"`
	Backend     string   `json:"backend"`
	AdapterType string   `json:"adapter_type"`
	VendorID    string   `json:"vendor_id_hex"`
	DeviceID    string   `json:"device_id_hex"`
	Name        string   `json:"name"`
	Driver      string   `json:"driver"`
	Limits      Limits   `json:"limits"`
	Features    []string `json:"features"`

	// Workgroup is the 1-D workgroup size used by the kernels.
	Workgroup uint32 `json:"workgroup"`
}

type Limits struct {
	MaxComputeInvocationsPerWorkgroup uint32 `json:"max_compute_invocations_per_workgroup"`
	MaxComputeWorkgroupSizeX          uint32 `json:"max_compute_workgroup_size_x"`
	MaxComputeWorkgroupsPerDimension  uint32 `json:"max_compute_workgroups_per_dimension"`
	MaxStorageBufferBindingSize       uint64 `json:"max_storage_buffer_binding_size"`
	MaxBufferSize                     uint64 `json:"max_buffer_size"`
}

// Report probes the context's adapter.
func (c *Context) Report() Report {
	info := c.Adapter.GetInfo()
	l := c.Adapter.GetLimits().Limits

	var feats []string
	for _, f := range c.Adapter.EnumerateFeatures() {
		feats = append(feats, f.String())
	}

	limits := Limits{
		MaxComputeInvocationsPerWorkgroup: l.MaxComputeInvocationsPerWorkgroup,
		MaxComputeWorkgroupSizeX:          l.MaxComputeWorkgroupSizeX,
		MaxComputeWorkgroupsPerDimension:  l.MaxComputeWorkgroupsPerDimension,
		MaxStorageBufferBindingSize:       l.MaxStorageBufferBindingSize,
		MaxBufferSize:                     l.MaxBufferSize,
	}
	return Report{
		WhenISO:     time.Now().UTC().Format(time.RFC3339),
		Backend:     info.BackendType.String(),
		AdapterType: info.AdapterType.String(),
		VendorID:    fmt.Sprintf("0x%04x", info.VendorId),
		DeviceID:    fmt.Sprintf("0x%04x", info.DeviceId),
		Name:        strings.TrimSpace(info.Name),
		Driver:      strings.TrimSpace(info.DriverDescription),
		Limits:      limits,
		Features:    feats,
		Workgroup:   limits.workgroup(),
	}
}

// workgroup picks the largest power-of-two size up to 256 the device allows.
func (l Limits) workgroup() uint32 {
	for _, c := range []uint32{256, 128, 64, 32, 16, 8, 4, 1} {
		if c <= l.MaxComputeWorkgroupSizeX && c <= l.MaxComputeInvocationsPerWorkgroup {
			return c
		}
	}
	return 1
}

// maxGroups is the per-dimension dispatch limit, 65535 when unreported.
func (l Limits) maxGroups() uint32 {
	if l.MaxComputeWorkgroupsPerDimension == 0 {
		return defaultMaxWorkgroups
	}
	return l.MaxComputeWorkgroupsPerDimension
}

// String is a one-line description for run logs.
func (r Report) String() string {
	return fmt.Sprintf("%s (%s, %s, workgroup %d)", r.Name, r.Backend, r.AdapterType, r.Workgroup)
}

// Save writes the report as indented JSON.
func (r Report) Save(path string) error {
	b, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0644)
}
