package capability

import (
	"fmt"
	"strings"
	"time"

	"github.com/gosnmp/gosnmp"
)

// SNMPAdapter wraps gosnmp for PDU port-state get/set, generalized from
// original_source/devices/snmp_gude.py's aiosnmp usage onto the
// ecosystem's gosnmp client (found in the retrieval pack's
// PremModhaOfficial-NMSlite/go.mod).
type SNMPAdapter struct {
	Community string
	Timeout   time.Duration
	Retries   int
}

func NewSNMPAdapter(community string) *SNMPAdapter {
	return &SNMPAdapter{Community: community, Timeout: time.Second, Retries: 1}
}

func (a *SNMPAdapter) newClient(host string) *gosnmp.GoSNMP {
	return &gosnmp.GoSNMP{
		Target:    host,
		Port:      161,
		Community: a.Community,
		Version:   gosnmp.Version2c,
		Timeout:   a.Timeout,
		Retries:   a.Retries,
	}
}

// GetPorts reads the integer value at each OID and reports whether it
// equals 1 (port energized).
func (a *SNMPAdapter) GetPorts(host string, oids []string) ([]bool, error) {
	client := a.newClient(host)
	if err := client.Connect(); err != nil {
		return nil, NewError("snmp", KindUnreachable, err)
	}
	defer client.Conn.Close()

	result, err := client.Get(oids)
	if err != nil {
		return nil, NewError("snmp", KindTimeout, err)
	}

	states := make([]bool, len(result.Variables))
	for i, v := range result.Variables {
		states[i] = gosnmp.ToBigInt(v.Value).Int64() == 1
	}
	return states, nil
}

// SetPorts writes each (oid, desired bool) pair as an SNMP set and returns
// the device's reported resulting states.
func (a *SNMPAdapter) SetPorts(host string, oids []string, values []bool) ([]bool, error) {
	if len(oids) != len(values) {
		return nil, NewError("snmp", KindProtocol, fmt.Errorf("oid/value length mismatch"))
	}
	client := a.newClient(host)
	if err := client.Connect(); err != nil {
		return nil, NewError("snmp", KindUnreachable, err)
	}
	defer client.Conn.Close()

	pdus := make([]gosnmp.SnmpPDU, len(oids))
	for i, oid := range oids {
		v := 0
		if values[i] {
			v = 1
		}
		pdus[i] = gosnmp.SnmpPDU{Name: oid, Type: gosnmp.Integer, Value: v}
	}

	result, err := client.Set(pdus)
	if err != nil {
		return nil, NewError("snmp", KindTimeout, err)
	}

	states := make([]bool, len(result.Variables))
	for i, v := range result.Variables {
		n := gosnmp.ToBigInt(v.Value).Int64()
		states[i] = n == 1
	}
	return states, nil
}

// GudeModel is one entry of the gudeModels table, which maps a Gude PDU's
// device_type.model string to its feed count and port-state OID prefix,
// generalized from
// original_source/devices/snmp_gude.py's get_num_powerfeeds /
// get_port_state_oid match statements.
type GudeModel struct {
	NumFeeds     int
	OIDPrefix    string
}

const gudeBaseOID = "1.3.6.1.4.1.28507"

var gudeModels = map[string]GudeModel{
	"1104-1": {1, gudeBaseOID + ".68.1.3.1.2.1.3."},
	"1105-1": {1, gudeBaseOID + ".69.1.3.1.2.1.3."},
	"1105-2": {1, gudeBaseOID + ".69.1.3.1.2.1.3."},
	"8031-1": {8, gudeBaseOID + ".81.1.3.1.2.1.3."},
	"8031-2": {8, gudeBaseOID + ".81.1.3.1.2.1.3."},
	"8801-3": {11, ""},
	"8041-1": {12, gudeBaseOID + ".85.1.3.1.2.1.3."},
	"8041-2": {12, gudeBaseOID + ".85.1.3.1.2.1.3."},
	"8045-1": {12, gudeBaseOID + ".87.1.3.1.2.1.3."},
	"8045-2": {12, gudeBaseOID + ".87.1.3.1.2.1.3."},
	"8291-1": {21, gudeBaseOID + ".98.1.3.1.2.1.3."},
	"8080":   {24, ""},
	"8082":   {24, ""},
	"8084":   {24, ""},
	"8081":   {24, ""},
	"8083":   {24, ""},
}

// LookupGudeModel resolves a device_type.model string of the form
// "Gude 8031-1" to its feed table entry. An unrecognised model is a hard
// error surfaced as a device error event.
func LookupGudeModel(model string) (GudeModel, error) {
	parts := strings.Fields(model)
	if len(parts) < 2 {
		return GudeModel{}, NewError("snmp", KindUnsupported, fmt.Errorf("malformed PDU model %q", model))
	}
	m, ok := gudeModels[parts[1]]
	if !ok {
		return GudeModel{}, NewError("snmp", KindUnsupported, fmt.Errorf("unknown PDU model %q", model))
	}
	if m.OIDPrefix == "" {
		return GudeModel{}, NewError("snmp", KindUnsupported, fmt.Errorf("PDU model %q has no known port-state OID", model))
	}
	return m, nil
}

// PortStateOIDs returns the per-feed OIDs (1-indexed) for a Gude model.
func (m GudeModel) PortStateOIDs() []string {
	oids := make([]string, m.NumFeeds)
	for i := 0; i < m.NumFeeds; i++ {
		oids[i] = fmt.Sprintf("%s%d", m.OIDPrefix, i+1)
	}
	return oids
}
