package dicomio

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"

	"github.com/suyashkumar/dicom"

	"deid-export/internal/deid"
)

// Save writes the file's Record to outputPath, creating parent
// directories as needed.
func (f *File) Save(outputPath string) error {
	ds, err := ToDataset(f.Record)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(outputPath), 0755); err != nil {
		return fmt.Errorf("could not create output directory: %w", err)
	}
	out, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("could not create output file: %w", err)
	}
	defer out.Close()

	// Relaxed verification: many real-world DICOM files don't strictly
	// follow VR specifications.
	if err := dicom.Write(out, ds,
		dicom.SkipVRVerification(),
		dicom.SkipValueTypeVerification(),
		dicom.DefaultMissingTransferSyntax(),
	); err != nil {
		return fmt.Errorf("could not write DICOM: %w", err)
	}
	return nil
}

// ToDataset converts a Record back into a dataset, recursing into
// sequences. Elements that still carry their source keep its value
// representation; elements the engine introduced are built from the
// dictionary.
func ToDataset(rec *deid.Record) (dicom.Dataset, error) {
	elems, err := toElements(rec)
	if err != nil {
		return dicom.Dataset{}, err
	}
	return dicom.Dataset{Elements: elems}, nil
}

func toElements(rec *deid.Record) ([]*dicom.Element, error) {
	out := make([]*dicom.Element, 0, rec.Len())
	for _, t := range rec.Tags() {
		e, _ := rec.Get(t)
		conv, err := toElement(e)
		if err != nil {
			return nil, fmt.Errorf("tag %s: %w", t, err)
		}
		out = append(out, conv)
	}
	return out, nil
}

func toElement(e *deid.Element) (*dicom.Element, error) {
	var payload any
	if e.IsSequence() {
		items := make([][]*dicom.Element, 0, len(e.Items))
		for _, item := range e.Items {
			elems, err := toElements(item)
			if err != nil {
				return nil, err
			}
			items = append(items, elems)
		}
		payload = items
	} else {
		payload = e.Value
	}

	orig, ok := e.Source.(*dicom.Element)
	if !ok {
		// Engine-introduced element: the dictionary supplies its VR.
		elem, err := dicom.NewElement(e.Tag, payload)
		if err != nil {
			return nil, fmt.Errorf("could not build element: %w", err)
		}
		return elem, nil
	}

	if !e.IsSequence() && samePayload(orig.Value.GetValue(), e.Value) {
		return orig, nil
	}
	value, err := dicom.NewValue(payload)
	if err != nil {
		return nil, fmt.Errorf("could not build value: %w", err)
	}
	return &dicom.Element{
		Tag:                    e.Tag,
		ValueRepresentation:    orig.ValueRepresentation,
		RawValueRepresentation: orig.RawValueRepresentation,
		ValueLength:            orig.ValueLength,
		Value:                  value,
	}, nil
}

// samePayload reports whether a scalar value is unchanged since read, in
// which case the source element is reused verbatim.
func samePayload(a, b any) bool {
	return reflect.DeepEqual(a, b)
}
