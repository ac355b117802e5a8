package eventlog

import "strings"

// detailsFieldCount 明细载荷的固定字段数（中间三个为保留位）
const detailsFieldCount = 5

// Details is the structured form of an event record's details column. On
// the wire it is a pipe-delimited positional payload with three reserved
// slots between the control settings and the request URL; the reserved
// slots are kept so older rows parse unchanged.
type Details struct {
	ControlSettings []string
	RequestURL      string
}

// Encode serializes the payload into the persisted column format.
func (d Details) Encode() string {
	fields := make([]string, detailsFieldCount)
	fields[0] = strings.Join(d.ControlSettings, ",")
	fields[4] = d.RequestURL
	return strings.Join(fields, "|")
}

// ParseDetails decodes a persisted details column. Missing trailing fields
// are tolerated; the URL may itself contain pipes, so the split is capped
// at the fixed field count.
func ParseDetails(raw string) Details {
	var d Details
	if raw == "" {
		return d
	}
	fields := strings.SplitN(raw, "|", detailsFieldCount)
	if fields[0] != "" {
		d.ControlSettings = strings.Split(fields[0], ",")
	}
	if len(fields) == detailsFieldCount {
		d.RequestURL = fields[4]
	}
	return d
}
