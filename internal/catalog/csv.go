// Package catalog seeds the master profile catalogue from CSV exports.
package catalog

import (
	"context"
	"encoding/csv"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/competitor-intel/internal/matching"
	"github.com/sells-group/competitor-intel/internal/model"
	"github.com/sells-group/competitor-intel/internal/resolve"
)

// Importer is the store side of a catalogue import.
type Importer interface {
	ImportProfiles(ctx context.Context, profiles []model.CompanyProfile) (int64, error)
}

// header aliases per profile field, lowercased.
var columns = map[string][]string{
	"name":       {"name", "company", "company name", "company_name"},
	"domain":     {"domain", "website", "url", "primary_domain"},
	"industry":   {"industry", "primary industry", "sector"},
	"confidence": {"confidence", "overall_confidence_score", "score"},
	"status":     {"validation_status", "status"},
}

// MapRow pairs each header with the corresponding value in the row.
// If the row has fewer columns than headers, missing values become empty strings.
func MapRow(headers []string, row []string) map[string]string {
	result := make(map[string]string, len(headers))
	for i, h := range headers {
		key := strings.ToLower(strings.TrimSpace(h))
		if i < len(row) {
			result[key] = strings.TrimSpace(row[i])
		} else {
			result[key] = ""
		}
	}
	return result
}

func field(row map[string]string, name string) string {
	for _, alias := range columns[name] {
		if v := row[alias]; v != "" {
			return v
		}
	}
	return ""
}

// ReadProfiles parses CSV rows into profiles. Rows without a usable name are
// skipped; rows normalizing to the same name keep the last one.
func ReadProfiles(r io.Reader) ([]model.CompanyProfile, error) {
	records, err := csv.NewReader(r).ReadAll()
	if err != nil {
		return nil, eris.Wrap(err, "catalog: read csv")
	}
	if len(records) < 2 {
		return nil, nil // header only or empty
	}

	headers := records[0]
	var hasName bool
	for _, h := range headers {
		for _, alias := range columns["name"] {
			if strings.EqualFold(strings.TrimSpace(h), alias) {
				hasName = true
			}
		}
	}
	if !hasName {
		return nil, eris.New("catalog: csv has no name column")
	}

	var out []model.CompanyProfile
	for i, raw := range records[1:] {
		row := MapRow(headers, raw)
		name := field(row, "name")
		normalized := resolve.NormalizeName(name)
		if normalized == "" {
			zap.L().Debug("catalog: skipping row without name", zap.Int("line", i+2))
			continue
		}

		p := model.CompanyProfile{
			CompanyName:      name,
			NormalizedName:   normalized,
			Industry:         model.StringPtr(field(row, "industry")),
			ValidationStatus: model.ValidationUnvalidated,
		}
		if d, ok := resolve.ExtractDomain(field(row, "domain")); ok {
			p.PrimaryDomain = &d
		}
		if s := field(row, "confidence"); s != "" {
			v, err := strconv.ParseFloat(s, 64)
			if err != nil || v < 0 || v > 100 {
				return nil, eris.Errorf("catalog: line %d: confidence %q must be a number in [0,100]", i+2, s)
			}
			p.OverallConfidenceScore = v
		}
		if s := model.ValidationStatus(strings.ToLower(field(row, "status"))); s != "" {
			if !s.Valid() {
				return nil, eris.Errorf("catalog: line %d: unknown validation status %q", i+2, s)
			}
			p.ValidationStatus = s
		}
		p.DataCompletenessScore = matching.Completeness(&p)
		out = append(out, p)
	}
	return out, nil
}

// ImportCSV reads the file at path and upserts its profiles by normalized
// name. Returns the number of rows written.
func ImportCSV(ctx context.Context, st Importer, path string) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, eris.Wrapf(err, "catalog: open csv %s", path)
	}
	defer f.Close() //nolint:errcheck

	profiles, err := ReadProfiles(f)
	if err != nil {
		return 0, err
	}
	if len(profiles) == 0 {
		return 0, nil
	}
	n, err := st.ImportProfiles(ctx, profiles)
	if err != nil {
		return 0, eris.Wrap(err, "catalog: import profiles")
	}
	zap.L().Info("catalog: imported profiles",
		zap.String("csv", path),
		zap.Int("rows", len(profiles)),
		zap.Int64("written", n),
	)
	return n, nil
}
