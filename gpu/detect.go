package gpu

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"
)

// Report is a portable summary of the adapter the resampler would run on.
// Useful before batching many display-resolution expansions through a pool.
type Report struct {
	WhenISO     string          `json:"when_iso"`
	Backend     string          `json:"backend"`
	AdapterType string          `json:"adapter_type"`
	VendorID    string          `json:"vendor_id_hex"`
	DeviceID    string          `json:"device_id_hex"`
	Name        string          `json:"name"`
	Driver      string          `json:"driver"`
	Limits      Limits          `json:"limits"`
	Features    []string        `json:"features"`
	Recommended Recommendations `json:"recommended"`
}

// Limits is the compute-relevant subset of the adapter limits.
type Limits struct {
	MaxComputeInvocationsPerWorkgroup uint32 `json:"max_compute_invocations_per_workgroup"`
	MaxComputeWorkgroupSizeX          uint32 `json:"max_compute_workgroup_size_x"`
	MaxComputeWorkgroupSizeY          uint32 `json:"max_compute_workgroup_size_y"`
	MaxComputeWorkgroupsPerDimension  uint32 `json:"max_compute_workgroups_per_dimension"`
	MaxStorageBufferBindingSize       uint64 `json:"max_storage_buffer_binding_size"`
	MaxBufferSize                     uint64 `json:"max_buffer_size"`
}

// Recommendations sizes resampling work for this adapter.
type Recommendations struct {
	// Square workgroup side the 2D kernels can use everywhere.
	WorkgroupSide uint32 `json:"workgroup_side"`
	// Largest square float32 grid one storage binding can hold.
	MaxGridSide uint32 `json:"max_grid_side"`
	// How many canonical 64x64 maps fit in the staging budget at once.
	MapsInBudget uint64 `json:"maps_in_budget"`
	// Soft budget in bytes for staging and temporaries. Override with
	// DAAM_BUDGET_MB.
	BudgetBytes uint64 `json:"budget_bytes"`
}

// Detect probes the shared device context and synthesizes a report.
func Detect() (*Report, error) {
	c, err := GetContext()
	if err != nil {
		return nil, fmt.Errorf("detect: %w", err)
	}

	info := c.Adapter.GetInfo()
	limits := c.Adapter.GetLimits()

	var feats []string
	for _, f := range c.Adapter.EnumerateFeatures() {
		feats = append(feats, f.String())
	}

	budget := uint64(128 * 1024 * 1024)
	if mbStr := os.Getenv("DAAM_BUDGET_MB"); mbStr != "" {
		if mb, err := strconv.Atoi(mbStr); err == nil && mb > 0 {
			budget = uint64(mb) * 1024 * 1024
		}
	}

	lim := Limits{
		MaxComputeInvocationsPerWorkgroup: limits.Limits.MaxComputeInvocationsPerWorkgroup,
		MaxComputeWorkgroupSizeX:          limits.Limits.MaxComputeWorkgroupSizeX,
		MaxComputeWorkgroupSizeY:          limits.Limits.MaxComputeWorkgroupSizeY,
		MaxComputeWorkgroupsPerDimension:  limits.Limits.MaxComputeWorkgroupsPerDimension,
		MaxStorageBufferBindingSize:       limits.Limits.MaxStorageBufferBindingSize,
		MaxBufferSize:                     limits.Limits.MaxBufferSize,
	}

	return &Report{
		WhenISO:     time.Now().UTC().Format(time.RFC3339),
		Backend:     info.BackendType.String(),
		AdapterType: info.AdapterType.String(),
		VendorID:    fmt.Sprintf("0x%04x", info.VendorId),
		DeviceID:    fmt.Sprintf("0x%04x", info.DeviceId),
		Name:        strings.TrimSpace(info.Name),
		Driver:      strings.TrimSpace(info.DriverDescription),
		Limits:      lim,
		Features:    feats,
		Recommended: recommend(lim, budget),
	}, nil
}

// DetectJSON runs a probe and returns the indented JSON string.
func DetectJSON() (string, error) {
	rep, err := Detect()
	if err != nil {
		return "", err
	}
	b, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func recommend(l Limits, budget uint64) Recommendations {
	return Recommendations{
		WorkgroupSide: chooseWorkgroupSide(l),
		MaxGridSide:   maxGridSide(l),
		MapsInBudget:  budget / (64 * 64 * 4),
		BudgetBytes:   budget,
	}
}

func chooseWorkgroupSide(l Limits) uint32 {
	for _, side := range []uint32{16, 8, 4, 1} {
		if side*side <= l.MaxComputeInvocationsPerWorkgroup &&
			side <= l.MaxComputeWorkgroupSizeX &&
			side <= l.MaxComputeWorkgroupSizeY {
			return side
		}
	}
	return 1
}

func maxGridSide(l Limits) uint32 {
	cells := l.MaxStorageBufferBindingSize / 4
	if m := l.MaxBufferSize / 4; m < cells {
		cells = m
	}
	return uint32(math.Sqrt(float64(cells)))
}
