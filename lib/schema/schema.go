// Copyright 2026 The Roost Authors
// SPDX-License-Identifier: Apache-2.0

// Package schema defines the control-plane wire types exchanged
// between workers and the controller: heartbeats, registrations,
// commands, and status reports. Everything here is JSON over the
// control API; the tensor data plane has its own framing in
// lib/tensor.
//
// This package depends on no other Roost packages, so any component
// can import it without dragging in runtime machinery.
package schema

import "time"

// UnassignedWorkerID is the worker_id a worker reports before the
// controller has assigned one.
const UnassignedWorkerID = -1

// MaxWorkerID is the highest assignable worker ID. Worker IDs double
// as DHCP host octets on the cluster subnets, so the range is kept
// well inside a /24.
const MaxWorkerID = 99

// DataPlane identifies which network carries tensor traffic.
type DataPlane string

const (
	// DataPlaneEthernet routes tensor traffic over the wired network,
	// shared with the control plane.
	DataPlaneEthernet DataPlane = "ethernet"

	// DataPlaneWifi routes tensor traffic over the controller-hosted
	// access point, isolating it from control traffic.
	DataPlaneWifi DataPlane = "wifi"
)

// Valid reports whether p is a known data plane.
func (p DataPlane) Valid() bool {
	return p == DataPlaneEthernet || p == DataPlaneWifi
}

// Health is the controller's view of a worker, derived from heartbeat
// staleness.
type Health string

const (
	// HealthOnline: last heartbeat within one heartbeat interval.
	HealthOnline Health = "online"

	// HealthSuspect: last heartbeat between one and three intervals
	// ago. The worker may be mid network switch or briefly loaded;
	// no action is taken yet.
	HealthSuspect Health = "suspect"

	// HealthOffline: last heartbeat more than three intervals ago.
	HealthOffline Health = "offline"
)

// AcceleratorInfo describes one PCI accelerator on a worker, reported
// in heartbeats so operators can see driver and link state fleet-wide.
type AcceleratorInfo struct {
	Address   string `json:"address"`
	DeviceID  string `json:"device_id"`
	Driver    string `json:"driver,omitempty"`
	LinkSpeed string `json:"link_speed,omitempty"`
	Gen3      bool   `json:"gen3"`
}

// WorkerHeartbeat is POSTed by each worker to the controller's
// /api/v1/heartbeat endpoint every heartbeat interval.
type WorkerHeartbeat struct {
	// WorkerID is the assigned ID, or UnassignedWorkerID before
	// assignment.
	WorkerID int `json:"worker_id"`

	// Serial is the hardware serial number, the worker's durable
	// identity key.
	Serial string `json:"serial"`

	// Identifier is the derived human-friendly name
	// (Adjective-Animal).
	Identifier string `json:"identifier"`

	// Version is the worker's build version.
	Version string `json:"version"`

	// KernelVersion is the worker's kernel release, for driver package
	// diagnostics fleet-wide.
	KernelVersion string `json:"kernel_version,omitempty"`

	// ControlIP is the worker's address on the wired control plane.
	ControlIP string `json:"control_ip"`

	// DataIP is the worker's address on the current data plane.
	DataIP string `json:"data_ip"`

	// DataPlane is the network currently carrying tensor traffic.
	DataPlane DataPlane `json:"data_plane"`

	// DataConnectivity reports whether the worker verified data-plane
	// reachability of the controller since the previous heartbeat.
	DataConnectivity bool `json:"data_connectivity"`

	// PublicKey is the worker's age public key. The controller seals
	// the access-point passphrase to it when pushing switch_to_wifi.
	PublicKey string `json:"public_key,omitempty"`

	// Accelerators lists detected PCI accelerators.
	Accelerators []AcceleratorInfo `json:"accelerators,omitempty"`

	// Timestamp is the worker's clock when the heartbeat was built.
	Timestamp int64 `json:"timestamp"`
}

// HeartbeatAck is the controller's response to a heartbeat. For
// unassigned workers it carries the newly assigned worker ID;
// otherwise it echoes the registered one.
type HeartbeatAck struct {
	WorkerID int `json:"worker_id"`
}

// WorkerRegistration is the controller's registry record for one
// worker, persisted in SQLite and served by the status API.
type WorkerRegistration struct {
	WorkerID         int       `json:"worker_id"`
	Serial           string    `json:"serial"`
	Identifier       string    `json:"identifier"`
	KernelVersion    string    `json:"kernel_version,omitempty"`
	ControlIP        string    `json:"control_ip"`
	DataIP           string    `json:"data_ip"`
	DataPlane        DataPlane `json:"data_plane"`
	DataConnectivity bool      `json:"data_connectivity"`
	PublicKey        string    `json:"public_key,omitempty"`
	Health           Health    `json:"health"`
	LastSeen         time.Time `json:"last_seen"`
}

// Command names understood by the worker control API. Unknown names
// are rejected with a CommandResult, never a dropped connection.
const (
	// CommandSwitchToEthernet moves the data plane to the wired
	// network.
	CommandSwitchToEthernet = "switch_to_ethernet"

	// CommandSwitchToWifi moves the data plane to the access point.
	// Data carries the SSID and the age-sealed passphrase.
	CommandSwitchToWifi = "switch_to_wifi"

	// CommandLoadModel loads a model by manifest name into the
	// worker's inference engine.
	CommandLoadModel = "load_model"
)

// Command is a controller-to-worker instruction, POSTed to the
// worker's /api/v1/command endpoint.
type Command struct {
	// Name selects the handler.
	Name string `json:"command"`

	// Data carries handler-specific parameters.
	Data map[string]string `json:"data,omitempty"`
}

// CommandResult reports the outcome of a command.
type CommandResult struct {
	OK      bool   `json:"ok"`
	Message string `json:"message,omitempty"`
}

// StatusReport is served by the controller's /api/v1/status endpoint
// for the CLI and viewer.
type StatusReport struct {
	// Identifier is the controller's human-friendly name.
	Identifier string `json:"identifier"`

	// Version is the controller's build version.
	Version string `json:"version"`

	// HeartbeatInterval is the interval health thresholds derive
	// from, in seconds.
	HeartbeatIntervalSeconds int `json:"heartbeat_interval_seconds"`

	// Workers lists every registered worker plus currently pending
	// (unassigned) ones.
	Workers []WorkerRegistration `json:"workers"`

	// Pending counts workers heartbeating without an assigned ID.
	Pending int `json:"pending"`
}

// ConnectivityProbe is served by both data-plane probe endpoints so a
// worker can verify which plane it reached.
type ConnectivityProbe struct {
	// Identifier is the responding node's human-friendly name.
	Identifier string `json:"identifier"`

	// Plane is the data plane the probe endpoint is bound to.
	Plane DataPlane `json:"plane"`
}
