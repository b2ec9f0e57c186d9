// Package paths provides centralized path construction for hymount's
// on-disk layout.
//
// Layout:
//
//	{moduleDir}/{id}/                 module root
//	{mountPoint}/                     writable storage root (tmpfs or ext4)
//	{ext4Image}                       backing loop image when mode=ext4
//	{stateFile}                       runtime state JSON
//	/dev/hymo_ctl                     companion filesystem control device
package paths

import "path/filepath"

const hymoCtlDevice = "/dev/hymo_ctl"

// Paths provides typed path construction over the orchestrator's
// configured directories.
type Paths struct {
	moduleDir  string
	mountPoint string
	ext4Image  string
	stateFile  string
}

// New creates a Paths instance from the configured directories.
func New(moduleDir, mountPoint, ext4Image, stateFile string) *Paths {
	return &Paths{
		moduleDir:  moduleDir,
		mountPoint: mountPoint,
		ext4Image:  ext4Image,
		stateFile:  stateFile,
	}
}

// ModuleDir returns the root directory containing all module subdirectories.
func (p *Paths) ModuleDir() string {
	return p.moduleDir
}

// ModuleRoot returns the root directory of a single module.
func (p *Paths) ModuleRoot(id string) string {
	return filepath.Join(p.moduleDir, id)
}

// MountPoint returns the writable storage root.
func (p *Paths) MountPoint() string {
	return p.mountPoint
}

// Ext4Image returns the path to the backing ext4 loop image.
func (p *Paths) Ext4Image() string {
	return p.ext4Image
}

// StateFile returns the path to the runtime state JSON document.
func (p *Paths) StateFile() string {
	return p.stateFile
}

// HymoCtlDevice returns the path to the companion filesystem control device.
func (p *Paths) HymoCtlDevice() string {
	return hymoCtlDevice
}

// PartitionTarget returns the absolute mount target for a partition, e.g.
// "/system", "/vendor".
func PartitionTarget(partition string) string {
	return "/" + partition
}
