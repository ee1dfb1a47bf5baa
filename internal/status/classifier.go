package status

import "github.com/timmy/tendersync/internal/domain"

// Classifier splits records into active and final by status label.
// Labels absent from the vocabulary are treated as active so that a new
// portal status is re-checked rather than silently frozen.
type Classifier struct {
	vocab *Vocabulary
}

// NewClassifier binds a classifier to a vocabulary; nil means Default().
func NewClassifier(vocab *Vocabulary) *Classifier {
	if vocab == nil {
		vocab = Default()
	}
	return &Classifier{vocab: vocab}
}

// Vocabulary returns the bound vocabulary.
func (c *Classifier) Vocabulary() *Vocabulary {
	return c.vocab
}

// ClassOf returns the class of label and whether the label is known.
func (c *Classifier) ClassOf(label string) (Class, bool) {
	e, ok := c.vocab.Lookup(label)
	if !ok {
		return ClassActive, false
	}
	return e.Class, true
}

// IsActive reports whether t may still change status.
func (c *Classifier) IsActive(t *domain.Tender) bool {
	class, _ := c.ClassOf(t.Status)
	return class == ClassActive
}

// Partition splits records into active and final, preserving input order.
// Every record lands in exactly one of the two slices.
func (c *Classifier) Partition(records []*domain.Tender) (active, final []*domain.Tender) {
	for _, t := range records {
		if c.IsActive(t) {
			active = append(active, t)
		} else {
			final = append(final, t)
		}
	}
	return active, final
}

// IsRecent reports whether t was published on or after cutoff.
// Records without a usable publication date count as recent.
func IsRecent(t *domain.Tender, cutoff domain.Date) bool {
	if t.PublishedDate.IsZero() {
		return true
	}
	return !t.PublishedDate.Before(cutoff)
}
