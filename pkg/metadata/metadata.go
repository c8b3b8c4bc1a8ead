// Package metadata reads and writes the image metadata table: one row per
// image naming its file, experimental condition, stain and replicate.
package metadata

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"histoquant/internal/models"
	"histoquant/pkg/imageio"
)

// Canonical column names of the metadata table
const (
	ColImageID   = "image_id"
	ColFilePath  = "file_path"
	ColCondition = "condition"
	ColStain     = "stain"
	ColReplicate = "replicate"
)

// Header is the canonical header written by Save
var Header = []string{ColImageID, ColFilePath, ColCondition, ColStain, ColReplicate}

// aliases maps normalised header spellings to canonical columns
var aliases = map[string]string{
	"imageid":   ColImageID,
	"image":     ColImageID,
	"filename":  ColImageID,
	"id":        ColImageID,
	"filepath":  ColFilePath,
	"path":      ColFilePath,
	"file":      ColFilePath,
	"condition": ColCondition,
	"group":     ColCondition,
	"stain":     ColStain,
	"staining":  ColStain,
	"replicate": ColReplicate,
	"rep":       ColReplicate,
}

func normalizeHeader(h string) string {
	h = strings.ToLower(strings.TrimSpace(h))
	h = strings.TrimPrefix(h, "\ufeff")
	h = strings.NewReplacer("_", "", " ", "", "-", "").Replace(h)
	if c, ok := aliases[h]; ok {
		return c
	}
	return h
}

// Load reads a metadata CSV file. Relative file paths are resolved against
// the directory of the CSV file. An unreadable, malformed or empty table is
// reported as models.ErrInvalidMetadata.
func Load(path string) ([]models.MetadataRow, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrInvalidMetadata, err)
	}
	defer file.Close()

	rows, err := Read(file)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	base := filepath.Dir(path)
	for i := range rows {
		if rows[i].FilePath != "" && !filepath.IsAbs(rows[i].FilePath) {
			rows[i].FilePath = filepath.Join(base, rows[i].FilePath)
		}
	}
	return rows, nil
}

// Read parses a metadata table from r
func Read(r io.Reader) ([]models.MetadataRow, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: table is empty", models.ErrInvalidMetadata)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrInvalidMetadata, err)
	}

	index := make(map[string]int)
	for i, h := range header {
		col := normalizeHeader(h)
		if _, dup := index[col]; !dup {
			index[col] = i
		}
	}
	for _, required := range []string{ColFilePath, ColCondition, ColStain} {
		if _, ok := index[required]; !ok {
			return nil, fmt.Errorf("%w: missing column %q", models.ErrInvalidMetadata, required)
		}
	}

	field := func(rec []string, col string) string {
		i, ok := index[col]
		if !ok || i >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[i])
	}

	var rows []models.MetadataRow
	for line := 2; ; line++ {
		rec, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", models.ErrInvalidMetadata, err)
		}
		if len(rec) == 1 && strings.TrimSpace(rec[0]) == "" {
			continue
		}

		row := models.MetadataRow{
			ImageID:   field(rec, ColImageID),
			FilePath:  field(rec, ColFilePath),
			Condition: field(rec, ColCondition),
			Stain:     field(rec, ColStain),
			Replicate: field(rec, ColReplicate),
		}
		if row.FilePath == "" || row.Condition == "" || row.Stain == "" {
			return nil, fmt.Errorf("%w: line %d lacks file path, condition or stain", models.ErrInvalidMetadata, line)
		}
		if row.ImageID == "" {
			row.ImageID = filepath.Base(row.FilePath)
		}
		if imageio.IsImageFile(row.ImageID) {
			row.ImageID = strings.TrimSuffix(row.ImageID, filepath.Ext(row.ImageID))
		}
		rows = append(rows, row)
	}

	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: table has no rows", models.ErrInvalidMetadata)
	}
	return rows, nil
}

// Save writes rows as a canonical metadata CSV file
func Save(path string, rows []models.MetadataRow) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	w := csv.NewWriter(file)
	w.Write(Header)
	for _, r := range rows {
		w.Write([]string{r.ImageID, r.FilePath, r.Condition, r.Stain, r.Replicate})
	}
	w.Flush()
	if err := w.Error(); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

// filenamePattern matches Condition-Stain-Replicate at the start of a base name
var filenamePattern = regexp.MustCompile(`^([^-]+)-([^-]+)-(\d+)`)

// ParseFilename extracts condition, stain and replicate from a file name of
// the form Condition-Stain-Replicate[...].ext
func ParseFilename(name string) (condition, stain, replicate string, ok bool) {
	base := filepath.Base(name)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	m := filenamePattern.FindStringSubmatch(base)
	if m == nil {
		return "", "", "", false
	}
	return m[1], m[2], m[3], true
}

// Scan builds a metadata table from the image files of a directory.
// Files whose names do not follow Condition-Stain-Replicate are returned in
// skipped. Rows are sorted by file name.
func Scan(dir string) (rows []models.MetadataRow, skipped []string, err error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read directory %s: %w", dir, err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !imageio.IsImageFile(e.Name()) {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	for _, name := range names {
		condition, stain, replicate, ok := ParseFilename(name)
		if !ok {
			skipped = append(skipped, name)
			continue
		}
		rows = append(rows, models.MetadataRow{
			ImageID:   strings.TrimSuffix(name, filepath.Ext(name)),
			FilePath:  filepath.Join(dir, name),
			Condition: condition,
			Stain:     stain,
			Replicate: replicate,
		})
	}
	return rows, skipped, nil
}

// GroupByStain splits rows by stain, keeping row order within each stain.
// The stains are returned in order of first appearance.
func GroupByStain(rows []models.MetadataRow) (stains []string, byStain map[string][]models.MetadataRow) {
	byStain = make(map[string][]models.MetadataRow)
	for _, r := range rows {
		if _, ok := byStain[r.Stain]; !ok {
			stains = append(stains, r.Stain)
		}
		byStain[r.Stain] = append(byStain[r.Stain], r)
	}
	return stains, byStain
}
