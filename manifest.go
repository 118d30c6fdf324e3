package probez

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
)

// ETW manifest namespaces.
const (
	manifestNS    = "http://schemas.microsoft.com/win/2004/08/events"
	manifestWinNS = "http://manifests.microsoft.com/win/2004/08/windows/events"
	manifestXsNS  = "http://www.w3.org/2001/XMLSchema"
)

const (
	probeKeyword     = "probe_keyword"
	probeKeywordMask = "0x2"
	eventMessage     = "probez probe"
)

type xmlManifest struct {
	XMLName   xml.Name      `xml:"instrumentationManifest"`
	NS        string        `xml:"xmlns,attr"`
	WinNS     string        `xml:"xmlns:win,attr"`
	XsNS      string        `xml:"xmlns:xs,attr"`
	Providers []xmlProvider `xml:"instrumentation>events>provider"`
	Resources xmlResources  `xml:"localization>resources"`
}

type xmlProvider struct {
	Name             string        `xml:"name,attr"`
	GUID             string        `xml:"guid,attr"`
	Symbol           string        `xml:"symbol,attr"`
	ResourceFileName string        `xml:"resourceFileName,attr"`
	MessageFileName  string        `xml:"messageFileName,attr"`
	Templates        []xmlTemplate `xml:"templates>template"`
	Events           []xmlEvent    `xml:"events>event"`
	Keywords         []xmlKeyword  `xml:"keywords>keyword"`
	Tasks            []xmlTask     `xml:"tasks>task"`
	Opcodes          []xmlOpcode   `xml:"opcodes>opcode"`
}

type xmlTemplate struct {
	TID  string    `xml:"tid,attr"`
	Data []xmlData `xml:"data"`
}

type xmlData struct {
	Name   string `xml:"name,attr"`
	InType string `xml:"inType,attr"`
}

type xmlEvent struct {
	Value    uint16 `xml:"value,attr"`
	Version  uint8  `xml:"version,attr"`
	Template string `xml:"template,attr,omitempty"`
	Opcode   string `xml:"opcode,attr"`
	Level    string `xml:"level,attr"`
	Task     string `xml:"task,attr"`
	Keywords string `xml:"keywords,attr"`
	Message  string `xml:"message,attr"`
}

type xmlKeyword struct {
	Name    string `xml:"name,attr"`
	Mask    string `xml:"mask,attr"`
	Message string `xml:"message,attr"`
}

type xmlTask struct {
	Value   uint16 `xml:"value,attr"`
	Name    string `xml:"name,attr"`
	Message string `xml:"message,attr"`
}

type xmlOpcode struct {
	Value   uint16 `xml:"value,attr"`
	Name    string `xml:"name,attr"`
	Message string `xml:"message,attr"`
}

type xmlResources struct {
	Culture string      `xml:"culture,attr"`
	Strings []xmlString `xml:"stringTable>string"`
}

type xmlString struct {
	ID    string `xml:"id,attr"`
	Value string `xml:"value,attr"`
}

// WriteManifest writes an ETW instrumentation manifest describing the
// providers and their probes. Every probe becomes an event with a template
// of Argument1..N data fields, a task named after the probe and an opcode
// keyed by its event id.
func WriteManifest(w io.Writer, providers ...*Provider) error {
	if len(providers) == 0 {
		return errors.New("manifest: no providers")
	}

	m := xmlManifest{
		NS:        manifestNS,
		WinNS:     manifestWinNS,
		XsNS:      manifestXsNS,
		Resources: xmlResources{Culture: "en-US"},
	}

	seen := make(map[string]bool, len(providers))
	for _, p := range providers {
		guid := strings.ToUpper(p.Identity().String())
		if seen[guid] {
			return fmt.Errorf("manifest: provider %q: %w: identity %s listed twice", p.Name(), ErrDuplicateName, guid)
		}
		seen[guid] = true

		xp, strs := manifestProvider(p, guid, len(providers) > 1)
		m.Providers = append(m.Providers, xp)
		m.Resources.Strings = append(m.Resources.Strings, strs...)
	}
	m.Resources.Strings = append(m.Resources.Strings,
		xmlString{ID: "event_message", Value: eventMessage},
		xmlString{ID: "probe_keyword_message", Value: eventMessage},
	)

	if _, err := io.WriteString(w, xml.Header); err != nil {
		return err
	}
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	if err := enc.Encode(m); err != nil {
		return fmt.Errorf("manifest: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("manifest: %w", err)
	}
	_, err := io.WriteString(w, "\n")
	return err
}

func manifestProvider(p *Provider, guid string, qualify bool) (xmlProvider, []xmlString) {
	symbol := "ProviderGuid"
	prefix := ""
	if qualify {
		symbol = symbolName(p.Name()) + "_ProviderGuid"
		prefix = symbolName(p.Name()) + "."
	}

	xp := xmlProvider{
		Name:   p.Name(),
		GUID:   "{" + guid + "}",
		Symbol: symbol,
		Keywords: []xmlKeyword{{
			Name:    probeKeyword,
			Mask:    probeKeywordMask,
			Message: "$(string.probe_keyword_message)",
		}},
	}

	probes := make([]*Probe, 0)
	for _, name := range p.Probes() {
		if probe, ok := p.Probe(name); ok {
			probes = append(probes, probe)
		}
	}
	sort.Slice(probes, func(i, j int) bool {
		return probes[i].Descriptor().ID < probes[j].Descriptor().ID
	})

	var strs []xmlString
	for _, probe := range probes {
		desc := probe.Descriptor()
		id := strconv.Itoa(int(desc.ID))
		opcode := "opcode_probe_" + id
		taskMsg := prefix + "probe_" + id + "_task_message"
		opcodeMsg := prefix + "probe_" + id + "_opcode_message"

		tid := ""
		if sig := probe.Signature(); len(sig) > 0 {
			tid = probe.Name() + "_tid"
			tmpl := xmlTemplate{TID: tid}
			for i, td := range sig {
				tmpl.Data = append(tmpl.Data, xmlData{
					Name:   "Argument" + strconv.Itoa(i+1),
					InType: td.WireType(),
				})
			}
			xp.Templates = append(xp.Templates, tmpl)
		}

		xp.Events = append(xp.Events, xmlEvent{
			Value:    desc.ID,
			Version:  desc.Version,
			Template: tid,
			Opcode:   opcode,
			Level:    manifestLevel(desc.Level),
			Task:     probe.Name(),
			Keywords: probeKeyword,
			Message:  "$(string.event_message)",
		})
		xp.Tasks = append(xp.Tasks, xmlTask{
			Value:   desc.ID,
			Name:    probe.Name(),
			Message: "$(string." + taskMsg + ")",
		})
		xp.Opcodes = append(xp.Opcodes, xmlOpcode{
			Value:   desc.ID,
			Name:    opcode,
			Message: "$(string." + opcodeMsg + ")",
		})
		strs = append(strs,
			xmlString{ID: opcodeMsg, Value: probe.Name()},
			xmlString{ID: taskMsg, Value: probe.Name()},
		)
	}
	return xp, strs
}

// manifestLevel maps an ETW level number to its well-known name. Zero is
// treated as informational.
func manifestLevel(level uint8) string {
	switch level {
	case 1:
		return "win:Critical"
	case 2:
		return "win:Error"
	case 3:
		return "win:Warning"
	case 5:
		return "win:Verbose"
	default:
		return "win:Informational"
	}
}

func symbolName(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			return r
		default:
			return '_'
		}
	}, name)
}
