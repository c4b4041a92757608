package ingest

import (
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/hirelens/calibration-cli/internal/model"
)

// Column aliases seen across HR export formats, normalized to lowercase
// with underscores.
var columnAliases = map[string]string{
	"assessment_id":      "assessment_id",
	"interview_id":       "assessment_id",
	"candidate_id":       "assessment_id",
	"hired":              "hired",
	"was_hired":          "hired",
	"started":            "started",
	"start_confirmed":    "started",
	"still_employed_30d": "still_employed_30d",
	"employed_30d":       "still_employed_30d",
	"retained_30":        "still_employed_30d",
	"still_employed_90d": "still_employed_90d",
	"employed_90d":       "still_employed_90d",
	"retained_90":        "still_employed_90d",
	"performance_rating": "performance_rating",
	"rating":             "performance_rating",
	"incident_flag":      "incident_flag",
	"incident":           "incident_flag",
	"recorded_at":        "recorded_at",
	"outcome_source":     "outcome_source",
	"source":             "outcome_source",
}

// headerIndex maps canonical column names to their position in the header
// row. Unknown columns are ignored rather than rejected.
func headerIndex(header []string) (map[string]int, error) {
	idx := make(map[string]int)
	for i, raw := range header {
		name := strings.ToLower(strings.TrimSpace(raw))
		name = strings.ReplaceAll(name, " ", "_")
		if canonical, ok := columnAliases[name]; ok {
			idx[canonical] = i
		}
	}
	if _, ok := idx["assessment_id"]; !ok {
		return nil, eris.New("ingest: header has no assessment id column")
	}
	return idx, nil
}

// parseOutcomeRow turns one tabular row into an Outcome. Blank cells stay
// nil: an HR export that has not yet learned whether someone started must
// not be read as "did not start".
func parseOutcomeRow(idx map[string]int, row []string, sourceLabel string, now time.Time) (*model.Outcome, error) {
	cell := func(name string) string {
		i, ok := idx[name]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	id := cell("assessment_id")
	if id == "" {
		return nil, eris.New("ingest: row missing assessment id")
	}

	o := &model.Outcome{
		AssessmentID:  id,
		OutcomeSource: sourceLabel,
		RecordedAt:    now.UTC(),
	}
	if src := cell("outcome_source"); src != "" {
		o.OutcomeSource = src
	}

	var err error
	if o.Hired, err = parseTristate(cell("hired")); err != nil {
		return nil, eris.Wrapf(err, "ingest: row %s: hired", id)
	}
	if o.Started, err = parseTristate(cell("started")); err != nil {
		return nil, eris.Wrapf(err, "ingest: row %s: started", id)
	}
	if o.StillEmployed30d, err = parseTristate(cell("still_employed_30d")); err != nil {
		return nil, eris.Wrapf(err, "ingest: row %s: still_employed_30d", id)
	}
	if o.StillEmployed90d, err = parseTristate(cell("still_employed_90d")); err != nil {
		return nil, eris.Wrapf(err, "ingest: row %s: still_employed_90d", id)
	}

	if raw := cell("performance_rating"); raw != "" {
		rating, convErr := strconv.Atoi(raw)
		if convErr != nil || rating < 1 || rating > 5 {
			return nil, eris.Errorf("ingest: row %s: performance rating %q out of 1-5", id, raw)
		}
		o.PerformanceRating = &rating
	}

	if raw := cell("incident_flag"); raw != "" {
		incident, parseErr := parseTristate(raw)
		if parseErr != nil {
			return nil, eris.Wrapf(parseErr, "ingest: row %s: incident_flag", id)
		}
		o.IncidentFlag = incident != nil && *incident
	}

	if raw := cell("recorded_at"); raw != "" {
		ts, parseErr := parseTimestamp(raw)
		if parseErr != nil {
			return nil, eris.Wrapf(parseErr, "ingest: row %s: recorded_at", id)
		}
		o.RecordedAt = ts
	}

	return o, nil
}

// parseTristate reads the boolean spellings HR exports actually use.
// Empty means unknown.
func parseTristate(raw string) (*bool, error) {
	switch strings.ToLower(raw) {
	case "":
		return nil, nil
	case "1", "true", "t", "yes", "y":
		v := true
		return &v, nil
	case "0", "false", "f", "no", "n":
		v := false
		return &v, nil
	}
	return nil, eris.Errorf("unrecognized boolean %q", raw)
}

var timestampLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02",
	"01/02/2006",
}

func parseTimestamp(raw string) (time.Time, error) {
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, raw); err == nil {
			return ts.UTC(), nil
		}
	}
	return time.Time{}, eris.Errorf("unrecognized timestamp %q", raw)
}

// outcomeXML is the wire shape of one <outcome> element in XML exports.
// All fields are strings so the same tristate parsing applies.
type outcomeXML struct {
	AssessmentID      string `xml:"assessment_id"`
	Hired             string `xml:"hired"`
	Started           string `xml:"started"`
	StillEmployed30d  string `xml:"still_employed_30d"`
	StillEmployed90d  string `xml:"still_employed_90d"`
	PerformanceRating string `xml:"performance_rating"`
	IncidentFlag      string `xml:"incident_flag"`
	RecordedAt        string `xml:"recorded_at"`
	OutcomeSource     string `xml:"outcome_source"`
}

// xmlColumnIndex lays the XML fields out as a virtual row so XML and
// tabular sources share one row parser.
var xmlColumnIndex = map[string]int{
	"assessment_id":      0,
	"hired":              1,
	"started":            2,
	"still_employed_30d": 3,
	"still_employed_90d": 4,
	"performance_rating": 5,
	"incident_flag":      6,
	"recorded_at":        7,
	"outcome_source":     8,
}

func (x outcomeXML) toOutcome(sourceLabel string, now time.Time) (*model.Outcome, error) {
	row := []string{
		x.AssessmentID, x.Hired, x.Started, x.StillEmployed30d, x.StillEmployed90d,
		x.PerformanceRating, x.IncidentFlag, x.RecordedAt, x.OutcomeSource,
	}
	return parseOutcomeRow(xmlColumnIndex, row, sourceLabel, now)
}
