// Package dicomio converts DICOM files to and from the engine's Record
// form. Parsing and serialization lean on github.com/suyashkumar/dicom;
// everything between read and write is the engine's business.
package dicomio

import (
	"fmt"
	"os"

	"github.com/suyashkumar/dicom"

	"deid-export/internal/deid"
)

// File is one DICOM file loaded into Record form.
type File struct {
	Record *deid.Record
	Path   string
}

// Read parses the DICOM file at path into a Record.
func Read(path string) (*File, error) {
	return read(path)
}

// ReadMetadataOnly parses only the metadata (no pixel data). Useful for
// planning passes that never write.
func ReadMetadataOnly(path string) (*File, error) {
	return read(path, dicom.SkipPixelData())
}

func read(path string, opts ...dicom.ParseOption) (*File, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("could not open file: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return nil, fmt.Errorf("could not stat file: %w", err)
	}

	ds, err := dicom.Parse(file, info.Size(), nil, opts...)
	if err != nil {
		return nil, fmt.Errorf("could not parse DICOM: %w", err)
	}

	rec, err := FromDataset(ds)
	if err != nil {
		return nil, fmt.Errorf("could not convert DICOM: %w", err)
	}
	return &File{Record: rec, Path: path}, nil
}

// FromDataset converts a parsed dataset into a Record, recursing into
// sequences. Each converted element keeps a reference to its source so
// the writer can preserve encoding details.
func FromDataset(ds dicom.Dataset) (*deid.Record, error) {
	return fromElements(ds.Elements)
}

func fromElements(elements []*dicom.Element) (*deid.Record, error) {
	rec := deid.NewRecord()
	for _, e := range elements {
		conv, err := fromElement(e)
		if err != nil {
			return nil, err
		}
		if err := rec.Set(conv); err != nil {
			return nil, err
		}
	}
	return rec, nil
}

func fromElement(e *dicom.Element) (*deid.Element, error) {
	out := &deid.Element{
		Tag:    e.Tag,
		VR:     e.RawValueRepresentation,
		Source: e,
	}
	if e.RawValueRepresentation == "SQ" {
		items, ok := e.Value.GetValue().([]*dicom.SequenceItemValue)
		if !ok {
			return nil, fmt.Errorf("unexpected sequence payload %T for tag %s", e.Value.GetValue(), e.Tag)
		}
		out.Items = make([]*deid.Record, 0, len(items))
		for _, item := range items {
			elems, ok := item.GetValue().([]*dicom.Element)
			if !ok {
				return nil, fmt.Errorf("unexpected sequence item payload %T for tag %s", item.GetValue(), e.Tag)
			}
			sub, err := fromElements(elems)
			if err != nil {
				return nil, err
			}
			out.Items = append(out.Items, sub)
		}
		return out, nil
	}
	out.Value = e.Value.GetValue()
	return out, nil
}
