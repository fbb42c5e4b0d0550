package extract

import (
	"errors"
	"fmt"

	"listing_canon/models"
)

// ErrNoExtractableData means no extractor produced a single usable field.
var ErrNoExtractableData = errors.New("no extractable data")

// Extractor pulls raw fields out of one page. Implementations never share
// state between calls, so one extractor may serve many workers.
type Extractor interface {
	ID() models.ExtractorID
	Extract(page *models.FetchedPage) (*models.RawFieldBag, error)
}

// ExtractionFailure reports that one extractor could not read a page. It is
// never fatal to the page: the coordinator moves on to the next extractor.
type ExtractionFailure struct {
	Extractor models.ExtractorID
	Reason    string
	Err       error
}

func (f *ExtractionFailure) Error() string {
	if f.Err != nil {
		return fmt.Sprintf("%s extractor: %s: %v", f.Extractor, f.Reason, f.Err)
	}
	return fmt.Sprintf("%s extractor: %s", f.Extractor, f.Reason)
}

func (f *ExtractionFailure) Unwrap() error {
	return f.Err
}

func failure(id models.ExtractorID, reason string, err error) *ExtractionFailure {
	return &ExtractionFailure{Extractor: id, Reason: reason, Err: err}
}

// runSafely calls e.Extract and converts panics and errors into an
// ExtractionFailure. The returned bag is never nil.
func runSafely(e Extractor, page *models.FetchedPage) (bag *models.RawFieldBag, fail *ExtractionFailure) {
	defer func() {
		if r := recover(); r != nil {
			bag = models.NewRawFieldBag()
			fail = failure(e.ID(), "panic", fmt.Errorf("%v", r))
		}
	}()

	bag, err := e.Extract(page)
	if bag == nil {
		bag = models.NewRawFieldBag()
	}
	if err != nil {
		var ef *ExtractionFailure
		if errors.As(err, &ef) {
			return bag, ef
		}
		return bag, failure(e.ID(), "extract", err)
	}
	return bag, nil
}
