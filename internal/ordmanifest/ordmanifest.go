// Package ordmanifest reads and writes the gzip-compressed JSON ordering
// manifest that accompanies a .mat file: the {foreground, background,
// exterior} TermRef lists flat_background.py persists via
// to_json(ordr, filename, gzip=True) / from_json, with the same
// ORDERING_SUFFIX/".index.json.gz" legacy-suffix fallback on read.
package ordmanifest

import (
	"compress/gzip"
	"encoding/json"
	"io"
	"os"
	"strings"

	"github.com/antelope-go/tarjanbg/internal/errors"
	"github.com/antelope-go/tarjanbg/internal/model"
)

// Suffix is the current ordering-manifest filename suffix.
const Suffix = ".ordering.json.gz"

// legacySuffix is accepted on read for manifests written by an older
// build of this package.
const legacySuffix = ".index.json.gz"

// termRefJSON is the on-disk shape of a model.TermRef.
type termRefJSON struct {
	FlowRef   string `json:"flow_ref"`
	Direction string `json:"direction"`
	TermRef   string `json:"term_ref"`
	SCCID     string `json:"scc_id"`
}

// Manifest is the persisted {foreground, background, exterior} 4-tuple
// lists.
type Manifest struct {
	Foreground []model.TermRef
	Background []model.TermRef
	Exterior   []model.TermRef
}

type manifestJSON struct {
	Foreground []termRefJSON `json:"foreground"`
	Background []termRefJSON `json:"background"`
	Exterior   []termRefJSON `json:"exterior"`
}

// Write serializes m to path+Suffix (or path as-is if it already ends with
// Suffix), gzip-compressed.
func Write(path string, m Manifest) error {
	if !strings.HasSuffix(path, Suffix) {
		path += Suffix
	}

	f, err := os.Create(path)
	if err != nil {
		return errors.WithStackTrace(err)
	}
	defer f.Close()

	gz := gzip.NewWriter(f)
	defer gz.Close()

	return encode(gz, m)
}

func encode(w io.Writer, m Manifest) error {
	doc := manifestJSON{
		Foreground: toJSON(m.Foreground),
		Background: toJSON(m.Background),
		Exterior:   toJSON(m.Exterior),
	}
	enc := json.NewEncoder(w)
	if err := enc.Encode(doc); err != nil {
		return errors.WithStackTrace(err)
	}
	return nil
}

func toJSON(refs []model.TermRef) []termRefJSON {
	out := make([]termRefJSON, len(refs))
	for i, r := range refs {
		out[i] = termRefJSON{
			FlowRef:   r.FlowRef,
			Direction: r.Direction.String(),
			TermRef:   r.TermRef,
			SCCID:     r.SCCID,
		}
	}
	return out
}

// Read loads a manifest at base+Suffix, falling back to base+legacySuffix
// if the current suffix isn't present.
func Read(base string) (Manifest, error) {
	path := base
	if !strings.HasSuffix(path, Suffix) && !strings.HasSuffix(path, legacySuffix) {
		path = base + Suffix
	}

	f, err := os.Open(path)
	if err != nil {
		legacy := base
		if !strings.HasSuffix(legacy, legacySuffix) {
			legacy = base + legacySuffix
		}
		f, err = os.Open(legacy)
		if err != nil {
			return Manifest{}, errors.WithStackTrace(err)
		}
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return Manifest{}, errors.WithStackTrace(err)
	}
	defer gz.Close()

	var doc manifestJSON
	if err := json.NewDecoder(gz).Decode(&doc); err != nil {
		return Manifest{}, errors.WithStackTrace(err)
	}

	return Manifest{
		Foreground: fromJSON(doc.Foreground),
		Background: fromJSON(doc.Background),
		Exterior:   fromJSON(doc.Exterior),
	}, nil
}

func fromJSON(refs []termRefJSON) []model.TermRef {
	out := make([]model.TermRef, len(refs))
	for i, r := range refs {
		dir, err := model.ParseDirection(r.Direction)
		if err != nil {
			dir = model.DirectionInput
		}
		out[i] = model.TermRef{
			FlowRef:   r.FlowRef,
			Direction: dir,
			TermRef:   r.TermRef,
			SCCID:     r.SCCID,
		}
	}
	return out
}
