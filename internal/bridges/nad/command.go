package nad

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// CommandKind is the type of a host command.
type CommandKind int

// Host command kinds.
const (
	CommandRefresh CommandKind = iota
	CommandOnOff
	CommandPercent
	CommandDecimal
	CommandIncrease
	CommandDecrease
	CommandString
)

func (k CommandKind) String() string {
	switch k {
	case CommandOnOff:
		return "OnOff"
	case CommandPercent:
		return "Percent"
	case CommandDecimal:
		return "Decimal"
	case CommandIncrease:
		return "Increase"
	case CommandDecrease:
		return "Decrease"
	case CommandString:
		return "String"
	default:
		return "Refresh"
	}
}

// Command is a typed command from the host for one channel.
type Command struct {
	Kind   CommandKind
	On     bool
	Number float64
	Text   string
}

// OnOff switches a channel on or off.
func OnOff(on bool) Command { return Command{Kind: CommandOnOff, On: on} }

// Percent sets a channel to a 0..100 level.
func Percent(p float64) Command { return Command{Kind: CommandPercent, Number: p} }

// Decimal sets a channel to an absolute number.
func Decimal(v float64) Command { return Command{Kind: CommandDecimal, Number: v} }

// Increase steps a channel up by the receiver's step size.
func Increase() Command { return Command{Kind: CommandIncrease} }

// Decrease steps a channel down.
func Decrease() Command { return Command{Kind: CommandDecrease} }

// StringCommand sets a text channel.
func StringCommand(s string) Command { return Command{Kind: CommandString, Text: s} }

// Refresh asks the receiver to report the channel.
func Refresh() Command { return Command{Kind: CommandRefresh} }

func (c Command) String() string {
	switch c.Kind {
	case CommandOnOff:
		if c.On {
			return "OnOff(ON)"
		}
		return "OnOff(OFF)"
	case CommandPercent, CommandDecimal:
		return fmt.Sprintf("%s(%s)", c.Kind, strconv.FormatFloat(c.Number, 'f', -1, 64))
	case CommandString:
		return fmt.Sprintf("String(%q)", c.Text)
	default:
		return c.Kind.String()
	}
}

// ParseCommand converts a wire command name and optional value (as sent on
// MQTT or the HTTP API) into a Command.
//
//	on, off                → OnOff
//	set + "on"/"off"       → OnOff
//	set + number           → Decimal
//	set + text             → String
//	percent + number       → Percent
//	increase/up, decrease/down, refresh
func ParseCommand(name, value string) (Command, error) {
	value = strings.TrimSpace(value)
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "on":
		return OnOff(true), nil
	case "off":
		return OnOff(false), nil
	case "increase", "up":
		return Increase(), nil
	case "decrease", "down":
		return Decrease(), nil
	case "refresh":
		return Refresh(), nil
	case "percent":
		p, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return Command{}, fmt.Errorf("percent value %q: %w", value, err)
		}
		return Percent(p), nil
	case "string", "text":
		return StringCommand(value), nil
	case "set":
		switch strings.ToLower(value) {
		case "on":
			return OnOff(true), nil
		case "off":
			return OnOff(false), nil
		case "":
			return Command{}, fmt.Errorf("set requires a value")
		}
		if v, err := strconv.ParseFloat(value, 64); err == nil {
			return Decimal(v), nil
		}
		return StringCommand(value), nil
	default:
		return Command{}, fmt.Errorf("unknown command %q", name)
	}
}

// channelBinding describes how one channel maps onto the catalog. Empty
// commands are unsupported for that channel.
type channelBinding struct {
	query, set, increment, decrement LogicalCommand
	encode                           func(Command) (string, bool)
	// follow lists queries sent after a successful set.
	follow func(Command) []LogicalCommand
}

var zoneBindings = map[string]channelBinding{
	AttrPower:         {query: CmdPowerQuery, set: CmdPowerSet, encode: encodeOnOff},
	AttrMute:          {query: CmdMuteQuery, set: CmdMuteSet, encode: encodeOnOff},
	AttrVolumeDB:      {query: CmdVolumeQuery, set: CmdVolumeSet, increment: CmdVolumeIncrement, decrement: CmdVolumeDecrement, encode: encodeVolumeDB},
	AttrVolumePercent: {query: CmdVolumeQuery, set: CmdVolumeSet, increment: CmdVolumeIncrement, decrement: CmdVolumeDecrement, encode: encodeVolumePercent},
	AttrSource:        {query: CmdSourceQuery, set: CmdSourceSet, increment: CmdSourceIncrement, decrement: CmdSourceDecrement, encode: encodeIndex},
	AttrListeningMode: {query: CmdListeningModeQuery, set: CmdListeningModeSet, increment: CmdListeningModeIncrement, decrement: CmdListeningModeDecrement, encode: encodeText},
}

var tunerBindings = map[string]channelBinding{
	AttrBand:           {query: CmdTunerBandQuery, set: CmdTunerBandSet, encode: encodeBand, follow: bandFollowUp},
	AttrAMFrequency:    {query: CmdTunerAMFrequencyQuery, set: CmdTunerAMFrequencySet, increment: CmdTunerAMFrequencyIncrement, decrement: CmdTunerAMFrequencyDecrement, encode: encodeIndex},
	AttrFMFrequency:    {query: CmdTunerFMFrequencyQuery, set: CmdTunerFMFrequencySet, increment: CmdTunerFMFrequencyIncrement, decrement: CmdTunerFMFrequencyDecrement, encode: encodeFMFrequency},
	AttrFMMute:         {query: CmdTunerFMMuteQuery, set: CmdTunerFMMuteSet, encode: encodeOnOff},
	AttrRDSName:        {query: CmdTunerFMRDSNameQuery},
	AttrRDSText:        {query: CmdTunerFMRDSTextQuery},
	AttrPreset:         {query: CmdTunerPresetQuery, set: CmdTunerPresetSet, increment: CmdTunerPresetIncrement, decrement: CmdTunerPresetDecrement, encode: encodeIndex},
	AttrPresetDetail:   {query: CmdTunerPresetQuery},
	AttrXMChannel:      {query: CmdTunerXMChannelQuery, set: CmdTunerXMChannelSet, increment: CmdTunerXMChannelIncrement, decrement: CmdTunerXMChannelDecrement, encode: encodeIndex},
	AttrXMChannelName:  {query: CmdTunerXMChannelNameQuery},
	AttrXMName:         {query: CmdTunerXMNameQuery},
	AttrXMSongTitle:    {query: CmdTunerXMSongTitleQuery},
	AttrDABServiceName: {query: CmdTunerDABServiceNameQuery},
	AttrDABDLSText:     {query: CmdTunerDABDLSTextQuery},
}

var receiverBindings = map[string]channelBinding{
	AttrModel: {query: CmdModelQuery},
}

// BuildCommand translates a host command for channelID into the messages
// to send. A command type the channel does not accept yields an
// *UnsupportedValueError; an unknown channel yields ErrUnknownChannel.
// Neither affects the connection.
func BuildCommand(channelID string, cmd Command) ([]Message, error) {
	scope, attr, err := ParseChannelID(channelID)
	if err != nil {
		return nil, err
	}

	var (
		prefix   string
		bindings map[string]channelBinding
	)
	switch {
	case scope == ScopeTuner:
		prefix, bindings = PrefixTuner, tunerBindings
	case scope == ScopeReceiver:
		prefix, bindings = PrefixMain, receiverBindings
	default:
		zone, ok := ParseZoneScope(scope)
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownChannel, channelID)
		}
		prefix, _ = ZonePrefix(zone)
		bindings = zoneBindings
	}

	b, ok := bindings[attr]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownChannel, channelID)
	}

	unsupported := &UnsupportedValueError{Channel: channelID, Command: cmd}

	var logical LogicalCommand
	var value string
	switch cmd.Kind {
	case CommandRefresh:
		logical = b.query
	case CommandIncrease:
		logical = b.increment
	case CommandDecrease:
		logical = b.decrement
	default:
		if b.set == "" || b.encode == nil {
			return nil, unsupported
		}
		v, ok := b.encode(cmd)
		if !ok {
			return nil, unsupported
		}
		logical, value = b.set, v
	}
	if logical == "" {
		return nil, unsupported
	}

	msg, err := Build(logical, prefix, value)
	if err != nil {
		return nil, err
	}
	msgs := []Message{msg}

	if logical == b.set && b.follow != nil {
		for _, q := range b.follow(cmd) {
			msgs = append(msgs, mustBuild(q, prefix))
		}
	}
	return msgs, nil
}

func encodeOnOff(c Command) (string, bool) {
	if c.Kind != CommandOnOff {
		return "", false
	}
	if c.On {
		return "On", true
	}
	return "Off", true
}

func encodeVolumeDB(c Command) (string, bool) {
	if c.Kind != CommandDecimal {
		return "", false
	}
	return FormatVolumeDB(int(math.Round(c.Number))), true
}

func encodeVolumePercent(c Command) (string, bool) {
	switch c.Kind {
	case CommandPercent, CommandDecimal:
		return FormatVolumeDB(DBFromPercent(int(math.Round(c.Number)))), true
	case CommandOnOff:
		// ON restores the loudest level, OFF the quietest, like a dimmer.
		if c.On {
			return FormatVolumeDB(MaxVolumeDB), true
		}
		return FormatVolumeDB(MinVolumeDB), true
	default:
		return "", false
	}
}

func encodeIndex(c Command) (string, bool) {
	switch c.Kind {
	case CommandDecimal:
		if c.Number < 1 || c.Number != math.Trunc(c.Number) {
			return "", false
		}
		return strconv.Itoa(int(c.Number)), true
	case CommandString:
		n, err := strconv.Atoi(strings.TrimSpace(c.Text))
		if err != nil || n < 1 {
			return "", false
		}
		return strconv.Itoa(n), true
	default:
		return "", false
	}
}

func encodeFMFrequency(c Command) (string, bool) {
	if c.Kind != CommandDecimal || c.Number <= 0 {
		return "", false
	}
	return strconv.FormatFloat(math.Round(c.Number*100)/100, 'f', -1, 64), true //nolint:mnd // 10 kHz resolution
}

func encodeText(c Command) (string, bool) {
	if c.Kind != CommandString || strings.TrimSpace(c.Text) == "" {
		return "", false
	}
	return strings.TrimSpace(c.Text), true
}

func encodeBand(c Command) (string, bool) {
	if c.Kind != CommandString {
		return "", false
	}
	band := strings.ToUpper(strings.TrimSpace(c.Text))
	for _, b := range defaultBandNames {
		if band == b {
			return band, true
		}
	}
	return "", false
}

// bandFollowUp asks for the frequency of the band just selected.
func bandFollowUp(c Command) []LogicalCommand {
	switch strings.ToUpper(strings.TrimSpace(c.Text)) {
	case BandFM:
		return []LogicalCommand{CmdTunerFMFrequencyQuery}
	case BandAM:
		return []LogicalCommand{CmdTunerAMFrequencyQuery}
	case BandXM:
		return []LogicalCommand{CmdTunerXMChannelQuery}
	case BandDAB:
		return []LogicalCommand{CmdTunerDABServiceNameQuery}
	}
	return nil
}
