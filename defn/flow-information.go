/* ipcpd - RINA IPC Process Daemon
 *
 * Copyright (C) 2024 RINASharp contributors.
 *
 * This file is licensed under the terms of the MIT License, as found in LICENSE.md.
 */

package defn

// QosParameters describes the requested quality of service of a flow.
type QosParameters struct {
	AverageBandwidth uint32
	MaxDelay         uint32
	MaxJitter        uint32
	InOrderDelivery  bool
	PartialDelivery  bool
	MaxAllowableGap  int32
}

// DefaultHopLimit is the hop limit of a flow request that does not set one.
const DefaultHopLimit = 1

// FlowInformation is an immutable request describing a flow to establish.
type FlowInformation struct {
	sourceApplication      ApplicationNamingInfo
	destinationApplication ApplicationNamingInfo
	sourceAddress          Address
	destinationAddress     Address
	qos                    QosParameters
	policies               map[string]string
	maxRetries             int
	hopLimit               int
}

// FlowOption sets an optional attribute of a FlowInformation at construction.
type FlowOption func(*FlowInformation)

// WithSourceAddress sets the address of the requesting side.
func WithSourceAddress(address Address) FlowOption {
	return func(f *FlowInformation) { f.sourceAddress = address }
}

// WithDestinationAddress sets the address of the peer. Without it the engine resolves the destination application.
func WithDestinationAddress(address Address) FlowOption {
	return func(f *FlowInformation) { f.destinationAddress = address }
}

// WithQos sets the QoS parameters.
func WithQos(qos QosParameters) FlowOption {
	return func(f *FlowInformation) { f.qos = qos }
}

// WithPolicy adds a named policy to the policy set.
func WithPolicy(name string, value string) FlowOption {
	return func(f *FlowInformation) { f.policies[name] = value }
}

// WithMaxRetries sets how many times a failed allocation may be retried by the caller.
func WithMaxRetries(maxRetries int) FlowOption {
	return func(f *FlowInformation) { f.maxRetries = maxRetries }
}

// WithHopLimit sets the hop limit.
func WithHopLimit(hopLimit int) FlowOption {
	return func(f *FlowInformation) { f.hopLimit = hopLimit }
}

// NewFlowInformation creates a flow request from source to destination application.
func NewFlowInformation(source ApplicationNamingInfo, destination ApplicationNamingInfo, options ...FlowOption) *FlowInformation {
	f := &FlowInformation{
		sourceApplication:      source,
		destinationApplication: destination,
		policies:               make(map[string]string),
		hopLimit:               DefaultHopLimit,
	}
	for _, option := range options {
		option(f)
	}
	return f
}

// SourceApplication returns the naming info of the requesting application.
func (f *FlowInformation) SourceApplication() ApplicationNamingInfo {
	return f.sourceApplication
}

// DestinationApplication returns the naming info of the requested application.
func (f *FlowInformation) DestinationApplication() ApplicationNamingInfo {
	return f.destinationApplication
}

// SourceAddress returns the address of the requesting side.
func (f *FlowInformation) SourceAddress() Address {
	return f.sourceAddress
}

// DestinationAddress returns the address of the peer, possibly empty.
func (f *FlowInformation) DestinationAddress() Address {
	return f.destinationAddress
}

// Qos returns the QoS parameters.
func (f *FlowInformation) Qos() QosParameters {
	return f.qos
}

// Policy returns the value of a named policy.
func (f *FlowInformation) Policy(name string) (string, bool) {
	value, ok := f.policies[name]
	return value, ok
}

// Policies returns a copy of the policy set.
func (f *FlowInformation) Policies() map[string]string {
	policies := make(map[string]string, len(f.policies))
	for k, v := range f.policies {
		policies[k] = v
	}
	return policies
}

// MaxRetries returns the retry limit.
func (f *FlowInformation) MaxRetries() int {
	return f.maxRetries
}

// HopLimit returns the hop limit.
func (f *FlowInformation) HopLimit() int {
	return f.hopLimit
}

// Reverse returns the request as seen by the responder: source and destination are swapped.
func (f *FlowInformation) Reverse() *FlowInformation {
	r := &FlowInformation{
		sourceApplication:      f.destinationApplication,
		destinationApplication: f.sourceApplication,
		sourceAddress:          f.destinationAddress,
		destinationAddress:     f.sourceAddress,
		qos:                    f.qos,
		policies:               f.Policies(),
		maxRetries:             f.maxRetries,
		hopLimit:               f.hopLimit,
	}
	return r
}

func (f *FlowInformation) String() string {
	return "Flow " + f.sourceApplication.String() + "@" + f.sourceAddress.String() +
		" -> " + f.destinationApplication.String() + "@" + f.destinationAddress.String()
}
