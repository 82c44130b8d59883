package nad

import (
	"fmt"
	"strconv"
	"strings"
)

// LogicalCommand identifies a (variable, operator) pair independently of the
// prefix it is sent to. The same command drives outbound encoding and the
// classification of inbound status lines.
type LogicalCommand string

// Zone commands (prefix Main, Zone2, Zone3, Zone4).
const (
	CmdPowerQuery             LogicalCommand = "POWER_QUERY"
	CmdPowerSet               LogicalCommand = "POWER_SET"
	CmdVolumeQuery            LogicalCommand = "VOLUME_QUERY"
	CmdVolumeSet              LogicalCommand = "VOLUME_SET"
	CmdVolumeIncrement        LogicalCommand = "VOLUME_INCREMENT"
	CmdVolumeDecrement        LogicalCommand = "VOLUME_DECREMENT"
	CmdMuteQuery              LogicalCommand = "MUTE_QUERY"
	CmdMuteSet                LogicalCommand = "MUTE_SET"
	CmdSourceQuery            LogicalCommand = "SOURCE_QUERY"
	CmdSourceSet              LogicalCommand = "SOURCE_SET"
	CmdSourceIncrement        LogicalCommand = "SOURCE_INCREMENT"
	CmdSourceDecrement        LogicalCommand = "SOURCE_DECREMENT"
	CmdListeningModeQuery     LogicalCommand = "LISTENING_MODE_QUERY"
	CmdListeningModeSet       LogicalCommand = "LISTENING_MODE_SET"
	CmdListeningModeIncrement LogicalCommand = "LISTENING_MODE_INCREMENT"
	CmdListeningModeDecrement LogicalCommand = "LISTENING_MODE_DECREMENT"
	CmdModelQuery             LogicalCommand = "MODEL_QUERY"
	CmdModelSet               LogicalCommand = "MODEL_SET"
)

// Tuner commands (prefix Tuner).
const (
	CmdTunerBandQuery             LogicalCommand = "TUNER_BAND_QUERY"
	CmdTunerBandSet               LogicalCommand = "TUNER_BAND_SET"
	CmdTunerAMFrequencyQuery      LogicalCommand = "TUNER_AM_FREQUENCY_QUERY"
	CmdTunerAMFrequencySet        LogicalCommand = "TUNER_AM_FREQUENCY_SET"
	CmdTunerAMFrequencyIncrement  LogicalCommand = "TUNER_AM_FREQUENCY_INCREMENT"
	CmdTunerAMFrequencyDecrement  LogicalCommand = "TUNER_AM_FREQUENCY_DECREMENT"
	CmdTunerFMFrequencyQuery      LogicalCommand = "TUNER_FM_FREQUENCY_QUERY"
	CmdTunerFMFrequencySet        LogicalCommand = "TUNER_FM_FREQUENCY_SET"
	CmdTunerFMFrequencyIncrement  LogicalCommand = "TUNER_FM_FREQUENCY_INCREMENT"
	CmdTunerFMFrequencyDecrement  LogicalCommand = "TUNER_FM_FREQUENCY_DECREMENT"
	CmdTunerFMMuteQuery           LogicalCommand = "TUNER_FM_MUTE_QUERY"
	CmdTunerFMMuteSet             LogicalCommand = "TUNER_FM_MUTE_SET"
	CmdTunerFMRDSNameQuery        LogicalCommand = "TUNER_FM_RDS_NAME_QUERY"
	CmdTunerFMRDSNameSet          LogicalCommand = "TUNER_FM_RDS_NAME_SET"
	CmdTunerFMRDSTextQuery        LogicalCommand = "TUNER_FM_RDS_TEXT_QUERY"
	CmdTunerFMRDSTextSet          LogicalCommand = "TUNER_FM_RDS_TEXT_SET"
	CmdTunerPresetQuery           LogicalCommand = "TUNER_PRESET_QUERY"
	CmdTunerPresetSet             LogicalCommand = "TUNER_PRESET_SET"
	CmdTunerPresetIncrement       LogicalCommand = "TUNER_PRESET_INCREMENT"
	CmdTunerPresetDecrement       LogicalCommand = "TUNER_PRESET_DECREMENT"
	CmdTunerXMChannelQuery        LogicalCommand = "TUNER_XM_CHANNEL_QUERY"
	CmdTunerXMChannelSet          LogicalCommand = "TUNER_XM_CHANNEL_SET"
	CmdTunerXMChannelIncrement    LogicalCommand = "TUNER_XM_CHANNEL_INCREMENT"
	CmdTunerXMChannelDecrement    LogicalCommand = "TUNER_XM_CHANNEL_DECREMENT"
	CmdTunerXMChannelNameQuery    LogicalCommand = "TUNER_XM_CHANNEL_NAME_QUERY"
	CmdTunerXMChannelNameSet      LogicalCommand = "TUNER_XM_CHANNEL_NAME_SET"
	CmdTunerXMNameQuery           LogicalCommand = "TUNER_XM_NAME_QUERY"
	CmdTunerXMNameSet             LogicalCommand = "TUNER_XM_NAME_SET"
	CmdTunerXMSongTitleQuery      LogicalCommand = "TUNER_XM_SONG_TITLE_QUERY"
	CmdTunerXMSongTitleSet        LogicalCommand = "TUNER_XM_SONG_TITLE_SET"
	CmdTunerDABServiceNameQuery   LogicalCommand = "TUNER_DAB_SERVICE_NAME_QUERY"
	CmdTunerDABServiceNameSet     LogicalCommand = "TUNER_DAB_SERVICE_NAME_SET"
	CmdTunerDABDLSTextQuery       LogicalCommand = "TUNER_DAB_DLS_TEXT_QUERY"
	CmdTunerDABDLSTextSet         LogicalCommand = "TUNER_DAB_DLS_TEXT_SET"
)

// Source commands (prefix Source1..SourceN).
const (
	CmdSourceNameQuery LogicalCommand = "SOURCE_NAME_QUERY"
	CmdSourceNameSet   LogicalCommand = "SOURCE_NAME_SET"
)

// CommandTemplate is the prefix-independent part of a command.
type CommandTemplate struct {
	Variable string
	Operator Operator
	Value    string
}

// WithPrefix combines the template with a prefix into a full Message.
func (t CommandTemplate) WithPrefix(prefix string) Message {
	return Message{Prefix: prefix, Variable: t.Variable, Operator: t.Operator, Value: t.Value}
}

// WithValue returns a copy of the template carrying value.
func (t CommandTemplate) WithValue(value string) CommandTemplate {
	t.Value = value
	return t
}

type catalogEntry struct {
	cmd      LogicalCommand
	variable string
	op       Operator
}

// catalogTable is the protocol vocabulary. It is read-only after package
// initialisation.
var catalogTable = []catalogEntry{
	{CmdPowerQuery, "Power", OpQuery},
	{CmdPowerSet, "Power", OpSet},
	{CmdVolumeQuery, "Volume", OpQuery},
	{CmdVolumeSet, "Volume", OpSet},
	{CmdVolumeIncrement, "Volume", OpIncrement},
	{CmdVolumeDecrement, "Volume", OpDecrement},
	{CmdMuteQuery, "Mute", OpQuery},
	{CmdMuteSet, "Mute", OpSet},
	{CmdSourceQuery, "Source", OpQuery},
	{CmdSourceSet, "Source", OpSet},
	{CmdSourceIncrement, "Source", OpIncrement},
	{CmdSourceDecrement, "Source", OpDecrement},
	{CmdListeningModeQuery, "ListeningMode", OpQuery},
	{CmdListeningModeSet, "ListeningMode", OpSet},
	{CmdListeningModeIncrement, "ListeningMode", OpIncrement},
	{CmdListeningModeDecrement, "ListeningMode", OpDecrement},
	{CmdModelQuery, "Model", OpQuery},
	{CmdModelSet, "Model", OpSet},

	{CmdTunerBandQuery, "Band", OpQuery},
	{CmdTunerBandSet, "Band", OpSet},
	{CmdTunerAMFrequencyQuery, "AM.Frequency", OpQuery},
	{CmdTunerAMFrequencySet, "AM.Frequency", OpSet},
	{CmdTunerAMFrequencyIncrement, "AM.Frequency", OpIncrement},
	{CmdTunerAMFrequencyDecrement, "AM.Frequency", OpDecrement},
	{CmdTunerFMFrequencyQuery, "FM.Frequency", OpQuery},
	{CmdTunerFMFrequencySet, "FM.Frequency", OpSet},
	{CmdTunerFMFrequencyIncrement, "FM.Frequency", OpIncrement},
	{CmdTunerFMFrequencyDecrement, "FM.Frequency", OpDecrement},
	{CmdTunerFMMuteQuery, "FM.Mute", OpQuery},
	{CmdTunerFMMuteSet, "FM.Mute", OpSet},
	{CmdTunerFMRDSNameQuery, "FM.RDSName", OpQuery},
	{CmdTunerFMRDSNameSet, "FM.RDSName", OpSet},
	{CmdTunerFMRDSTextQuery, "FM.RDSText", OpQuery},
	{CmdTunerFMRDSTextSet, "FM.RDSText", OpSet},
	{CmdTunerPresetQuery, "Preset", OpQuery},
	{CmdTunerPresetSet, "Preset", OpSet},
	{CmdTunerPresetIncrement, "Preset", OpIncrement},
	{CmdTunerPresetDecrement, "Preset", OpDecrement},
	{CmdTunerXMChannelQuery, "XM.Channel", OpQuery},
	{CmdTunerXMChannelSet, "XM.Channel", OpSet},
	{CmdTunerXMChannelIncrement, "XM.Channel", OpIncrement},
	{CmdTunerXMChannelDecrement, "XM.Channel", OpDecrement},
	{CmdTunerXMChannelNameQuery, "XM.ChannelName", OpQuery},
	{CmdTunerXMChannelNameSet, "XM.ChannelName", OpSet},
	{CmdTunerXMNameQuery, "XM.Name", OpQuery},
	{CmdTunerXMNameSet, "XM.Name", OpSet},
	{CmdTunerXMSongTitleQuery, "XM.SongTitle", OpQuery},
	{CmdTunerXMSongTitleSet, "XM.SongTitle", OpSet},
	{CmdTunerDABServiceNameQuery, "DAB.ServiceName", OpQuery},
	{CmdTunerDABServiceNameSet, "DAB.ServiceName", OpSet},
	{CmdTunerDABDLSTextQuery, "DAB.DLSText", OpQuery},
	{CmdTunerDABDLSTextSet, "DAB.DLSText", OpSet},

	{CmdSourceNameQuery, "Name", OpQuery},
	{CmdSourceNameSet, "Name", OpSet},
}

type classifyKey struct {
	variable string
	op       Operator
}

var (
	classifyIndex = buildClassifyIndex(catalogTable)
	templateIndex = buildTemplateIndex(catalogTable)
)

// buildClassifyIndex panics on a duplicate (variable, operator) pair: the
// catalog must classify every line to at most one command.
func buildClassifyIndex(entries []catalogEntry) map[classifyKey]LogicalCommand {
	idx := make(map[classifyKey]LogicalCommand, len(entries))
	for _, e := range entries {
		k := classifyKey{variable: e.variable, op: e.op}
		if prev, dup := idx[k]; dup {
			panic(fmt.Sprintf("nad: catalog pair %s%s maps to both %s and %s", e.variable, e.op, prev, e.cmd))
		}
		idx[k] = e.cmd
	}
	return idx
}

func buildTemplateIndex(entries []catalogEntry) map[LogicalCommand]CommandTemplate {
	idx := make(map[LogicalCommand]CommandTemplate, len(entries))
	for _, e := range entries {
		idx[e.cmd] = CommandTemplate{Variable: e.variable, Operator: e.op}
	}
	return idx
}

// Classify looks up the logical command for a (variable, operator) pair.
// The second result is false for pairs the catalog does not know; callers
// ignore those lines.
func Classify(variable string, op Operator) (LogicalCommand, bool) {
	cmd, ok := classifyIndex[classifyKey{variable: variable, op: op}]
	return cmd, ok
}

// Template returns the canonical variable/operator/value for cmd.
func Template(cmd LogicalCommand) (CommandTemplate, bool) {
	t, ok := templateIndex[cmd]
	return t, ok
}

// Build combines the template for cmd with prefix and value.
func Build(cmd LogicalCommand, prefix, value string) (Message, error) {
	t, ok := Template(cmd)
	if !ok {
		return Message{}, fmt.Errorf("%w: %s", ErrUnknownCommand, cmd)
	}
	return t.WithValue(value).WithPrefix(prefix), nil
}

// Commands returns every logical command in catalog order.
func Commands() []LogicalCommand {
	out := make([]LogicalCommand, 0, len(catalogTable))
	for _, e := range catalogTable {
		out = append(out, e.cmd)
	}
	return out
}

// Protocol prefixes.
const (
	PrefixMain  = "Main"
	PrefixTuner = "Tuner"

	sourcePrefix = "Source"
)

// MaxZones is the largest zone count any NAD model supports.
const MaxZones = 4

var zonePrefixes = [MaxZones]string{PrefixMain, "Zone2", "Zone3", "Zone4"}

// ZonePrefix returns the protocol prefix for a 1-based zone number.
func ZonePrefix(zone int) (string, bool) {
	if zone < 1 || zone > MaxZones {
		return "", false
	}
	return zonePrefixes[zone-1], true
}

// ZoneNumber returns the 1-based zone number for a protocol prefix.
func ZoneNumber(prefix string) (int, bool) {
	for i, p := range zonePrefixes {
		if strings.EqualFold(p, prefix) {
			return i + 1, true
		}
	}
	return 0, false
}

// SourcePrefix returns the protocol prefix for a 1-based source index.
func SourcePrefix(index int) string {
	return sourcePrefix + strconv.Itoa(index)
}

// SourceIndex parses a SourceN prefix.
func SourceIndex(prefix string) (int, bool) {
	if len(prefix) <= len(sourcePrefix) || !strings.EqualFold(prefix[:len(sourcePrefix)], sourcePrefix) {
		return 0, false
	}
	n, err := strconv.Atoi(prefix[len(sourcePrefix):])
	if err != nil || n < 1 {
		return 0, false
	}
	return n, true
}

// Default option lists. The receiver overrides source names at runtime.
var (
	defaultSourceNames = []string{
		"CD", "Tuner", "Video 1", "Video 2", "Video 3",
		"Video 4", "Video 5", "Video 6", "iPod", "Audio",
		"Source 11", "Source 12",
	}
	defaultBandNames = []string{BandFM, BandAM, BandXM, BandDAB}
)

// Tuner bands as reported by Tuner.Band.
const (
	BandFM  = "FM"
	BandAM  = "AM"
	BandXM  = "XM"
	BandDAB = "DAB"
)

// TunerSourceName is the source name that routes a zone to the tuner.
const TunerSourceName = "Tuner"

// defaultPresetCount is the number of tuner presets on current models.
const defaultPresetCount = 40

// DefaultSourceNames returns the first n default source names.
func DefaultSourceNames(n int) []string {
	out := make([]string, n)
	for i := range out {
		if i < len(defaultSourceNames) {
			out[i] = defaultSourceNames[i]
		} else {
			out[i] = fmt.Sprintf("Source %d", i+1)
		}
	}
	return out
}

// DefaultBandNames returns the tuner bands in display order.
func DefaultBandNames() []string {
	return append([]string(nil), defaultBandNames...)
}

// DefaultPresetNames returns "Preset 01" .. "Preset 40".
func DefaultPresetNames() []string {
	out := make([]string, defaultPresetCount)
	for i := range out {
		out[i] = "Preset " + PresetKey(i+1)
	}
	return out
}

// PresetKey formats a preset number as the zero-padded two-digit id used by
// preset files.
func PresetKey(n int) string {
	return fmt.Sprintf("%02d", n)
}
