// Package nad implements the NAD receiver bridge for Gray Logic.
//
// NAD A/V receivers speak NADCP, a line-oriented ASCII protocol carried
// over TCP (port 23) or RS-232. This package owns the connection to one
// receiver, keeps a cache of its channel state and translates between
// Gray Logic channels and NADCP lines.
//
// # Architecture
//
//	┌─────────────────┐          ┌──────────────────────────────┐
//	│   Gray Logic    │   MQTT   │ Bridge ─► Handler ─► Client  │  TCP / RS-232
//	│      Core       │◄────────►│    ▲         │         │    │◄────────────► Receiver
//	└─────────────────┘          │    └─ DeviceState ◄─────┘    │
//	                             └──────────────────────────────┘
//
// # Wire Format
//
// Every line is prefix.variable<op>value terminated by CR:
//
//	Main.Power=On      status (receiver) or set (host)
//	Main.Volume?       query
//	Zone2.Volume+      increment
//	Tuner.FM.Frequency=101.10
//
// Decode, Encode and Classify convert between lines, Message values and
// the LogicalCommand catalog.
//
// # Channels
//
// Channels are addressed as scope#attribute: zone1#power, zone2#volumeDB,
// tuner#rdsText, receiver#model. The device state is mutated only from
// status lines the receiver sends; host commands take effect when the
// receiver echoes them.
//
// # Tuner Monitors
//
// RDS text and XM metadata are not pushed reliably, so two monitors poll
// them while the tuner is the selected source on any powered zone and the
// tuner is on the matching band.
//
// # Thread Safety
//
// All exported types are safe for concurrent use from multiple goroutines.
package nad
