// Package category classifies files into storage categories by content type.
package category

// Category is a coarse file grouping used for browsing and usage breakdowns.
type Category string

const (
	Documents Category = "documents"
	Images    Category = "images"
	Videos    Category = "videos"
	Others    Category = "others"
)

// Categories lists all categories in display order.
func Categories() []Category {
	return []Category{Documents, Images, Videos, Others}
}

// Classifier maps content types to categories via exact-string membership.
// Membership lists are checked in order: documents, images, videos. A content
// type appearing in more than one list resolves to the first match.
type Classifier struct {
	documents map[string]struct{}
	images    map[string]struct{}
	videos    map[string]struct{}
}

// NewClassifier builds a Classifier from the given membership lists.
func NewClassifier(documents, images, videos []string) *Classifier {
	return &Classifier{
		documents: toSet(documents),
		images:    toSet(images),
		videos:    toSet(videos),
	}
}

// Classify returns the category for a content type. Unknown or empty content
// types fall through to Others.
func (c *Classifier) Classify(mimeType string) Category {
	if _, ok := c.documents[mimeType]; ok {
		return Documents
	}
	if _, ok := c.images[mimeType]; ok {
		return Images
	}
	if _, ok := c.videos[mimeType]; ok {
		return Videos
	}
	return Others
}

func toSet(list []string) map[string]struct{} {
	set := make(map[string]struct{}, len(list))
	for _, s := range list {
		set[s] = struct{}{}
	}
	return set
}
