package nad

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// Channel scopes. Zones are "zone1".."zone4".
const (
	ScopeTuner    = "tuner"
	ScopeReceiver = "receiver"

	zoneScopePrefix = "zone"
	channelSep      = "#"
)

// Zone attributes.
const (
	AttrPower         = "power"
	AttrMute          = "mute"
	AttrVolumeDB      = "volumeDB"
	AttrVolumePercent = "volumePercent"
	AttrSource        = "source"
	AttrListeningMode = "listeningMode"
)

// Tuner attributes.
const (
	AttrBand           = "band"
	AttrAMFrequency    = "amFrequency"
	AttrFMFrequency    = "fmFrequency"
	AttrFMMute         = "fmMute"
	AttrRDSName        = "rdsName"
	AttrRDSText        = "rdsText"
	AttrPreset         = "preset"
	AttrPresetDetail   = "presetDetail"
	AttrXMChannel      = "xmChannel"
	AttrXMChannelName  = "xmChannelName"
	AttrXMName         = "xmName"
	AttrXMSongTitle    = "xmSongTitle"
	AttrDABServiceName = "dabServiceName"
	AttrDABDLSText     = "dabDlsText"
)

// Receiver attributes.
const (
	AttrModel = "model"
)

// ZoneScope returns the channel scope for a 1-based zone number.
func ZoneScope(zone int) string {
	return zoneScopePrefix + strconv.Itoa(zone)
}

// ChannelID joins a scope and attribute: "zone2#volumeDB".
func ChannelID(scope, attr string) string {
	return scope + channelSep + attr
}

// ParseChannelID splits a channel ID into scope and attribute.
func ParseChannelID(id string) (scope, attr string, err error) {
	scope, attr, ok := strings.Cut(id, channelSep)
	if !ok || scope == "" || attr == "" {
		return "", "", fmt.Errorf("%w: %q", ErrUnknownChannel, id)
	}
	return scope, attr, nil
}

// ParseZoneScope returns the zone number of a "zoneN" scope.
func ParseZoneScope(scope string) (int, bool) {
	if !strings.HasPrefix(scope, zoneScopePrefix) {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimPrefix(scope, zoneScopePrefix))
	if err != nil || n < 1 || n > MaxZones {
		return 0, false
	}
	return n, true
}

// change is a pending notification.
type change struct {
	channel string
	value   any
}

// DeviceState is the derived, change-detected model of one receiver.
//
// Every setter converts the raw wire value, compares it with the stored
// value and only on change stores it and calls OnChange. Values start
// unknown, so the first report of any channel always notifies.
//
// Status lines arrive on the client's reader; the RDS monitor clears the
// text from the scheduler. Every mutation holds writeMu from store through
// OnChange, so the host sees changes in the order they were stored and
// never keeps a value the model has since replaced. OnChange must not call
// a setter. Readers only take mu and never wait on a slow callback.
type DeviceState struct {
	zones   int
	sources *InputSourceList
	presets PresetResolver

	writeMu sync.Mutex
	mu      sync.RWMutex
	values  map[string]any

	callbackMu    sync.RWMutex
	onChange      func(channelID string, value any)
	onSourceNames func(names []string)
}

// NewDeviceState creates an empty state for a receiver with the given zone
// count. sources must not be nil; presets may be nil.
func NewDeviceState(zones int, sources *InputSourceList, presets PresetResolver) *DeviceState {
	return &DeviceState{
		zones:   zones,
		sources: sources,
		presets: presets,
		values:  make(map[string]any),
	}
}

// SetOnChange registers the single change callback.
func (s *DeviceState) SetOnChange(callback func(channelID string, value any)) {
	s.callbackMu.Lock()
	s.onChange = callback
	s.callbackMu.Unlock()
}

// SetOnSourceNames registers a callback for source list renames.
func (s *DeviceState) SetOnSourceNames(callback func(names []string)) {
	s.callbackMu.Lock()
	s.onSourceNames = callback
	s.callbackMu.Unlock()
}

// Zones returns the configured zone count.
func (s *DeviceState) Zones() int {
	return s.zones
}

// Sources returns the instance source list.
func (s *DeviceState) Sources() *InputSourceList {
	return s.sources
}

// update stores the given values and notifies those that changed. With
// force set, every value is stored and notified.
func (s *DeviceState) update(force bool, changes ...change) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	changed := changes[:0:0]
	for _, c := range changes {
		if old, ok := s.values[c.channel]; ok && old == c.value && !force {
			continue
		}
		s.values[c.channel] = c.value
		changed = append(changed, c)
	}
	s.mu.Unlock()

	if len(changed) == 0 {
		return
	}

	s.callbackMu.RLock()
	callback := s.onChange
	s.callbackMu.RUnlock()
	if callback == nil {
		return
	}
	for _, c := range changed {
		callback(c.channel, c.value)
	}
}

func (s *DeviceState) set(channel string, value any) {
	s.update(false, change{channel: channel, value: value})
}

func (s *DeviceState) zoneScope(zone int) (string, error) {
	if zone < 1 || zone > s.zones {
		return "", fmt.Errorf("%w: zone %d not in 1..%d", ErrIndexOutOfRange, zone, s.zones)
	}
	return ZoneScope(zone), nil
}

// SetPower applies a zone Power report ("On"/"Off").
func (s *DeviceState) SetPower(zone int, raw string) error {
	return s.setZoneOnOff(zone, AttrPower, raw)
}

// SetMute applies a zone Mute report ("On"/"Off").
func (s *DeviceState) SetMute(zone int, raw string) error {
	return s.setZoneOnOff(zone, AttrMute, raw)
}

func (s *DeviceState) setZoneOnOff(zone int, attr, raw string) error {
	scope, err := s.zoneScope(zone)
	if err != nil {
		return err
	}
	on, err := parseOnOff(raw)
	if err != nil {
		return err
	}
	s.set(ChannelID(scope, attr), on)
	return nil
}

// SetVolume applies a zone Volume report in dB. volumeDB and volumePercent
// are stored under one lock so readers never see a stale percentage.
func (s *DeviceState) SetVolume(zone int, raw string) error {
	scope, err := s.zoneScope(zone)
	if err != nil {
		return err
	}
	db, err := ParseVolumeDB(raw)
	if err != nil {
		return fmt.Errorf("volume %q: %w", raw, err)
	}
	s.update(false,
		change{channel: ChannelID(scope, AttrVolumeDB), value: db},
		change{channel: ChannelID(scope, AttrVolumePercent), value: PercentFromDB(db)},
	)
	return nil
}

// SetSource applies a zone Source report (1-based index).
func (s *DeviceState) SetSource(zone int, raw string) error {
	scope, err := s.zoneScope(zone)
	if err != nil {
		return err
	}
	idx, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("source %q: %w", raw, err)
	}
	if _, err := s.sources.Name(idx); err != nil {
		return err
	}
	s.set(ChannelID(scope, AttrSource), idx)
	return nil
}

// SetListeningMode applies a zone ListeningMode report.
func (s *DeviceState) SetListeningMode(zone int, raw string) error {
	scope, err := s.zoneScope(zone)
	if err != nil {
		return err
	}
	s.set(ChannelID(scope, AttrListeningMode), strings.TrimSpace(raw))
	return nil
}

// SetModel applies a Main.Model report.
func (s *DeviceState) SetModel(raw string) {
	s.set(ChannelID(ScopeReceiver, AttrModel), strings.TrimSpace(raw))
}

// SetTunerBand applies a Tuner.Band report.
func (s *DeviceState) SetTunerBand(raw string) {
	s.set(ChannelID(ScopeTuner, AttrBand), strings.ToUpper(strings.TrimSpace(raw)))
}

// SetAMFrequency applies a Tuner.AM.Frequency report in kHz.
func (s *DeviceState) SetAMFrequency(raw string) error {
	f, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return fmt.Errorf("AM frequency %q: %w", raw, err)
	}
	s.set(ChannelID(ScopeTuner, AttrAMFrequency), int(math.Round(f)))
	return nil
}

// SetFMFrequency applies a Tuner.FM.Frequency report in MHz.
func (s *DeviceState) SetFMFrequency(raw string) error {
	f, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return fmt.Errorf("FM frequency %q: %w", raw, err)
	}
	s.set(ChannelID(ScopeTuner, AttrFMFrequency), math.Round(f*100)/100) //nolint:mnd // 10 kHz resolution
	return nil
}

// SetFMMute applies a Tuner.FM.Mute report.
func (s *DeviceState) SetFMMute(raw string) error {
	on, err := parseOnOff(raw)
	if err != nil {
		return err
	}
	s.set(ChannelID(ScopeTuner, AttrFMMute), on)
	return nil
}

// SetTunerPreset applies a Tuner.Preset report and resolves its detail
// through the preset resolver. A preset absent from the resolver yields
// PresetNotSet.
func (s *DeviceState) SetTunerPreset(raw string) error {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("preset %q: %w", raw, err)
	}

	detail := PresetNotSet
	if s.presets != nil {
		if d, ok := s.presets.Lookup(PresetKey(n)); ok {
			detail = d
		}
	}

	s.update(false,
		change{channel: ChannelID(ScopeTuner, AttrPreset), value: n},
		change{channel: ChannelID(ScopeTuner, AttrPresetDetail), value: detail},
	)
	return nil
}

// SetXMChannel applies a Tuner.XM.Channel report.
func (s *DeviceState) SetXMChannel(raw string) error {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("XM channel %q: %w", raw, err)
	}
	s.set(ChannelID(ScopeTuner, AttrXMChannel), n)
	return nil
}

// SetTunerText applies one of the free-text tuner attributes (RDS, XM and
// DAB names and texts).
func (s *DeviceState) SetTunerText(attr, raw string) {
	s.set(ChannelID(ScopeTuner, attr), strings.TrimSpace(raw))
}

// ResetRDSText clears the RDS text. It always notifies, so the host drops
// stale text even if it was already empty.
func (s *DeviceState) ResetRDSText() {
	s.update(true, change{channel: ChannelID(ScopeTuner, AttrRDSText), value: ""})
}

// SetSourceName applies a SourceN.Name report to the source list.
func (s *DeviceState) SetSourceName(index int, raw string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	changed, err := s.sources.SetName(index, strings.TrimSpace(raw))
	if err != nil || !changed {
		return err
	}

	s.callbackMu.RLock()
	callback := s.onSourceNames
	s.callbackMu.RUnlock()
	if callback != nil {
		callback(s.sources.Names())
	}
	return nil
}

// Apply routes a classified status message to its setter. Queries, steps
// and messages for unconfigured zones are ignored.
func (s *DeviceState) Apply(cmd LogicalCommand, msg Message) error {
	if msg.Operator != OpSet {
		return nil
	}

	if zone, ok := ZoneNumber(msg.Prefix); ok {
		if zone > s.zones {
			return nil
		}
		return s.applyZone(zone, cmd, msg.Value)
	}

	if strings.EqualFold(msg.Prefix, PrefixTuner) {
		return s.applyTuner(cmd, msg.Value)
	}

	if idx, ok := SourceIndex(msg.Prefix); ok && cmd == CmdSourceNameSet {
		return s.SetSourceName(idx, msg.Value)
	}

	return nil
}

func (s *DeviceState) applyZone(zone int, cmd LogicalCommand, value string) error {
	switch cmd {
	case CmdPowerSet:
		return s.SetPower(zone, value)
	case CmdMuteSet:
		return s.SetMute(zone, value)
	case CmdVolumeSet:
		return s.SetVolume(zone, value)
	case CmdSourceSet:
		return s.SetSource(zone, value)
	case CmdListeningModeSet:
		return s.SetListeningMode(zone, value)
	case CmdModelSet:
		s.SetModel(value)
	}
	return nil
}

func (s *DeviceState) applyTuner(cmd LogicalCommand, value string) error {
	switch cmd {
	case CmdTunerBandSet:
		s.SetTunerBand(value)
	case CmdTunerAMFrequencySet:
		return s.SetAMFrequency(value)
	case CmdTunerFMFrequencySet:
		return s.SetFMFrequency(value)
	case CmdTunerFMMuteSet:
		return s.SetFMMute(value)
	case CmdTunerFMRDSNameSet:
		s.SetTunerText(AttrRDSName, value)
	case CmdTunerFMRDSTextSet:
		s.SetTunerText(AttrRDSText, value)
	case CmdTunerPresetSet:
		return s.SetTunerPreset(value)
	case CmdTunerXMChannelSet:
		return s.SetXMChannel(value)
	case CmdTunerXMChannelNameSet:
		s.SetTunerText(AttrXMChannelName, value)
	case CmdTunerXMNameSet:
		s.SetTunerText(AttrXMName, value)
	case CmdTunerXMSongTitleSet:
		s.SetTunerText(AttrXMSongTitle, value)
	case CmdTunerDABServiceNameSet:
		s.SetTunerText(AttrDABServiceName, value)
	case CmdTunerDABDLSTextSet:
		s.SetTunerText(AttrDABDLSText, value)
	}
	return nil
}

// Value returns the current value of a channel.
func (s *DeviceState) Value(channelID string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[channelID]
	return v, ok
}

// Snapshot returns a copy of every known channel value.
func (s *DeviceState) Snapshot() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]any, len(s.values))
	for k, v := range s.values {
		out[k] = v
	}
	return out
}

// Channels returns the known channel IDs in sorted order.
func (s *DeviceState) Channels() []string {
	s.mu.RLock()
	out := make([]string, 0, len(s.values))
	for k := range s.values {
		out = append(out, k)
	}
	s.mu.RUnlock()
	sort.Strings(out)
	return out
}

// Power reports whether a zone is on. known is false until the receiver
// has reported it.
func (s *DeviceState) Power(zone int) (on, known bool) {
	v, ok := s.Value(ChannelID(ZoneScope(zone), AttrPower))
	if !ok {
		return false, false
	}
	b, _ := v.(bool) //nolint:errcheck // stored by setZoneOnOff
	return b, true
}

// Source returns a zone's source index.
func (s *DeviceState) Source(zone int) (int, bool) {
	v, ok := s.Value(ChannelID(ZoneScope(zone), AttrSource))
	if !ok {
		return 0, false
	}
	n, _ := v.(int) //nolint:errcheck // stored by SetSource
	return n, true
}

// VolumeDB returns a zone's volume in dB.
func (s *DeviceState) VolumeDB(zone int) (float64, bool) {
	v, ok := s.Value(ChannelID(ZoneScope(zone), AttrVolumeDB))
	if !ok {
		return 0, false
	}
	f, _ := v.(float64) //nolint:errcheck // stored by SetVolume
	return f, true
}

// TunerBand returns the current tuner band, or "" if unknown.
func (s *DeviceState) TunerBand() string {
	v, _ := s.Value(ChannelID(ScopeTuner, AttrBand))
	band, _ := v.(string) //nolint:errcheck // stored by SetTunerBand
	return band
}

// TunerInUse reports whether at least one zone is powered on with its
// source set to the tuner.
func (s *DeviceState) TunerInUse() bool {
	tuner, ok := s.sources.IndexOf(TunerSourceName)
	if !ok {
		return false
	}
	for zone := 1; zone <= s.zones; zone++ {
		on, _ := s.Power(zone)
		src, _ := s.Source(zone)
		if on && src == tuner {
			return true
		}
	}
	return false
}

func parseOnOff(raw string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "on":
		return true, nil
	case "off":
		return false, nil
	default:
		return false, fmt.Errorf("expected On or Off, got %q", raw)
	}
}
