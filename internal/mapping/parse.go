package mapping

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/lucsky/cuid"
	"gopkg.in/yaml.v3"

	"github.com/bbernstein/lacylights-midi/internal/services/scaling"
)

// Format is the encoding of a mapping document.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// FormatFromPath picks the document format from a file extension.
// Anything other than .yaml/.yml is read as JSON.
func FormatFromPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatJSON
	}
}

// document mirrors the on-disk configuration.
type document struct {
	IP               string               `json:"IP" yaml:"IP"`
	Port             int                  `json:"port" yaml:"port"`
	HTTPHost         string               `json:"httpHost" yaml:"httpHost"`
	MidiDeviceInput  string               `json:"midiDeviceInput" yaml:"midiDeviceInput"`
	MidiChannelInput int                  `json:"midiChannelInput" yaml:"midiChannelInput"`
	Debug            int                  `json:"debug" yaml:"debug"`
	ControlChange    map[int]ruleDocument `json:"control_change" yaml:"control_change"`
	NoteOn           map[int]ruleDocument `json:"note_on" yaml:"note_on"`
	NoteOff          map[int]ruleDocument `json:"note_off" yaml:"note_off"`
}

type ruleDocument struct {
	Type             string   `json:"type" yaml:"type"`
	Address          string   `json:"address" yaml:"address"`
	Attribute        *string  `json:"attribute" yaml:"attribute"`
	Min              *float64 `json:"min" yaml:"min"`
	Max              *float64 `json:"max" yaml:"max"`
	ValueScaling     string   `json:"valueScaling" yaml:"valueScaling"`
	ValueScalingBase *float64 `json:"valueScalingBase" yaml:"valueScalingBase"`
	Command          string   `json:"command" yaml:"command"`
	Throttle         bool     `json:"throttle" yaml:"throttle"`
}

// Options adjust how a document is turned into a Store.
type Options struct {
	// Source is recorded on the Store for reporting.
	Source string
	// InputDevice replaces the document's midiDeviceInput when set.
	InputDevice string
}

// Parse builds a Store from a JSON or YAML document.
func Parse(data []byte, format Format) (*Store, error) {
	return ParseWithOptions(data, format, Options{})
}

// ParseWithOptions builds a Store, applying opts before validation.
// All validation problems are returned together.
func ParseWithOptions(data []byte, format Format, opts Options) (*Store, error) {
	var doc document
	if err := decode(data, format, &doc); err != nil {
		return nil, &ConfigError{Field: "document", Reason: err.Error(), Err: err}
	}
	if opts.InputDevice != "" {
		doc.MidiDeviceInput = opts.InputDevice
	}

	var errs []error

	settings, err := buildSettings(doc)
	if err != nil {
		errs = append(errs, err...)
	}

	rules := make(map[Key]Rule)
	tables := []struct {
		kind  EventKind
		table map[int]ruleDocument
	}{
		{ControlChange, doc.ControlChange},
		{NoteOn, doc.NoteOn},
		{NoteOff, doc.NoteOff},
	}
	for _, tbl := range tables {
		numbers := make([]int, 0, len(tbl.table))
		for n := range tbl.table {
			numbers = append(numbers, n)
		}
		sort.Ints(numbers)

		for _, n := range numbers {
			key := Key{Kind: tbl.kind, Number: n}
			rule, err := buildRule(key, tbl.table[n])
			if err != nil {
				errs = append(errs, err)
				continue
			}
			rules[key] = rule
		}
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	sum := sha256.Sum256(data)
	return &Store{
		revision: cuid.New(),
		hash:     hex.EncodeToString(sum[:]),
		source:   opts.Source,
		loadedAt: time.Now(),
		settings: settings,
		rules:    rules,
	}, nil
}

func decode(data []byte, format Format, doc *document) error {
	if format == FormatYAML {
		return yaml.Unmarshal(data, doc)
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	return dec.Decode(doc)
}

func buildSettings(doc document) (Settings, []error) {
	var errs []error

	ip := strings.TrimSpace(doc.IP)
	if ip == "" {
		errs = append(errs, fieldError("IP", "is required"))
	}
	if doc.Port < 1 || doc.Port > 65535 {
		errs = append(errs, fieldError("port", "must be 1-65535, got %d", doc.Port))
	}
	if doc.MidiChannelInput < 1 || doc.MidiChannelInput > 16 {
		errs = append(errs, fieldError("midiChannelInput", "must be 1-16, got %d", doc.MidiChannelInput))
	}
	device := strings.TrimSpace(doc.MidiDeviceInput)
	if device == "" {
		errs = append(errs, fieldError("midiDeviceInput", "is required"))
	}
	if doc.Debug != 0 && doc.Debug != 1 {
		errs = append(errs, fieldError("debug", "must be 0 or 1, got %d", doc.Debug))
	}

	httpHost := strings.TrimRight(strings.TrimSpace(doc.HTTPHost), "/")
	if httpHost == "" && ip != "" {
		httpHost = "http://" + ip
	}

	return Settings{
		InputDevice:  device,
		InputChannel: doc.MidiChannelInput - 1,
		OSCHost:      ip,
		OSCPort:      doc.Port,
		HTTPHost:     httpHost,
		Debug:        doc.Debug == 1,
	}, errs
}

func buildRule(key Key, rd ruleDocument) (Rule, error) {
	field := key.String()

	if key.Number < 0 || key.Number > 127 {
		return Rule{}, fieldError(field, "MIDI number must be 0-127")
	}

	rule := Rule{
		Target:    TargetKind(strings.ToLower(strings.TrimSpace(rd.Type))),
		Address:   strings.TrimSpace(rd.Address),
		Attribute: DefaultAttribute,
		Command:   strings.TrimSpace(rd.Command),
		Throttle:  rd.Throttle,
		Scaling:   ScalingSpec{Algorithm: scaling.Linear, Base: 1},
	}
	if rd.Attribute != nil && strings.TrimSpace(*rd.Attribute) != "" {
		rule.Attribute = strings.TrimSpace(*rd.Attribute)
	}

	switch rule.Target {
	case TargetOSC, TargetHTTP:
		if rule.Address == "" {
			return Rule{}, fieldError(field+".address", "is required for %s rules", rule.Target)
		}
		if rd.Min == nil || rd.Max == nil {
			return Rule{}, fieldError(field, "min and max are required for %s rules", rule.Target)
		}
	case TargetCommand:
		if rule.Command == "" {
			return Rule{}, fieldError(field+".command", "is required for command rules")
		}
	default:
		return Rule{}, fieldError(field+".type", "unknown target %q (want osc, http or command)", rd.Type)
	}

	if rd.Min != nil {
		rule.Min = *rd.Min
	}
	if rd.Max != nil {
		rule.Max = *rd.Max
	}

	alg, err := scaling.Parse(rd.ValueScaling)
	if err != nil {
		return Rule{}, &ConfigError{Field: field + ".valueScaling", Reason: err.Error(), Err: err}
	}
	rule.Scaling.Algorithm = alg
	if rd.ValueScalingBase != nil {
		rule.Scaling.Base = *rd.ValueScalingBase
	}
	if err := scaling.ValidateBase(alg, rule.Scaling.Base); err != nil {
		return Rule{}, &ConfigError{Field: field + ".valueScalingBase", Reason: err.Error(), Err: err}
	}

	return rule, nil
}
