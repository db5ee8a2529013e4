package ort

import (
	"runtime"
)

// MemoryInfo wraps an OrtMemoryInfo.
type MemoryInfo struct {
	handle
	name          string
	allocatorType AllocatorType
	deviceID      int
	memType       MemType
}

// NewMemoryInfo creates a memory info for the named device.
func (r *Runtime) NewMemoryInfo(name string, allocatorType AllocatorType, deviceID int, memType MemType) (*MemoryInfo, error) {
	api, err := r.funcs()
	if err != nil {
		return nil, err
	}
	if name == "" {
		return nil, invalidArgument("memory info name cannot be empty")
	}

	nameBytes, namePtr := GoToCstring(name)
	var ptr uintptr
	// #nosec G115 -- device ids are small and validated by the runtime.
	status := api.createMemoryInfo(namePtr, allocatorType, int32(deviceID), memType, &ptr)
	runtime.KeepAlive(nameBytes)
	if err := api.check("CreateMemoryInfo", status); err != nil {
		return nil, err
	}
	return wrapMemoryInfo(api, ptr, name, allocatorType, deviceID, memType), nil
}

// NewCPUMemoryInfo creates a memory info describing CPU memory.
func (r *Runtime) NewCPUMemoryInfo(allocatorType AllocatorType, memType MemType) (*MemoryInfo, error) {
	api, err := r.funcs()
	if err != nil {
		return nil, err
	}
	return newCPUMemoryInfo(api, allocatorType, memType)
}

func newCPUMemoryInfo(api *apiFuncs, allocatorType AllocatorType, memType MemType) (*MemoryInfo, error) {
	var ptr uintptr
	if err := api.check("CreateCpuMemoryInfo", api.createCPUMemoryInfo(allocatorType, memType, &ptr)); err != nil {
		return nil, err
	}
	return wrapMemoryInfo(api, ptr, "Cpu", allocatorType, 0, memType), nil
}

func wrapMemoryInfo(api *apiFuncs, ptr uintptr, name string, allocatorType AllocatorType, deviceID int, memType MemType) *MemoryInfo {
	return &MemoryInfo{
		handle: newHandle("memory info", ptr, func(p uintptr) error {
			api.releaseMemoryInfo(p)
			return nil
		}),
		name:          name,
		allocatorType: allocatorType,
		deviceID:      deviceID,
		memType:       memType,
	}
}

func (m *MemoryInfo) Name() string                 { return m.name }
func (m *MemoryInfo) AllocatorType() AllocatorType { return m.allocatorType }
func (m *MemoryInfo) DeviceID() int                { return m.deviceID }
func (m *MemoryInfo) MemType() MemType             { return m.memType }

// Release frees the OrtMemoryInfo.
func (m *MemoryInfo) Release() error {
	if m == nil {
		return nil
	}
	return m.handle.Release()
}
