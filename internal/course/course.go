// Package course imports course trees described in TOML files.
package course

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-grader/internal/dto"
	"github.com/noah-isme/gema-grader/internal/models"
	"github.com/noah-isme/gema-grader/internal/repository"
	"github.com/noah-isme/gema-grader/internal/service"
)

// ErrInvalidFile wraps every parse failure of a course file.
var ErrInvalidFile = errors.New("invalid course file")

// ErrNodeMoved is returned when a file places an existing slug below a
// different parent. Totals already propagated along the old chain.
var ErrNodeMoved = errors.New("content node cannot change parent")

// File is the root of a course file.
type File struct {
	Slug     string    `toml:"slug"`
	Title    string    `toml:"title"`
	Sections []Section `toml:"sections"`
}

// Section groups activities and nested sections.
type Section struct {
	Slug       string     `toml:"slug"`
	Title      string     `toml:"title"`
	Sections   []Section  `toml:"sections"`
	Activities []Activity `toml:"activities"`
}

// Activity is a leaf page holding one gradable activity.
type Activity struct {
	Slug       string      `toml:"slug"`
	Title      string      `toml:"title"`
	Kind       string      `toml:"kind"`
	Difficulty string      `toml:"difficulty"`
	Points     *int        `toml:"points"`
	Stars      *float64    `toml:"stars"`
	IOSpec     string      `toml:"iospec"`
	IOSpecSize int         `toml:"iospec_size"`
	AnswerKeys []AnswerKey `toml:"answer_keys"`
}

// AnswerKey is a reference solution for one language.
type AnswerKey struct {
	Language string `toml:"language"`
	Source   string `toml:"source"`
}

// Summary counts what an import touched.
type Summary struct {
	Nodes      int    `json:"nodes"`
	Activities int    `json:"activities"`
	AnswerKeys int    `json:"answer_keys"`
	RootID     uint   `json:"root_id"`
	RootSlug   string `json:"root_slug"`
}

// Parse decodes a course file, rejecting unknown keys.
func Parse(data []byte) (File, error) {
	var file File
	decoder := toml.NewDecoder(bytes.NewReader(data)).DisallowUnknownFields()
	if err := decoder.Decode(&file); err != nil {
		var strict *toml.StrictMissingError
		if errors.As(err, &strict) {
			return File{}, fmt.Errorf("%w: %s", ErrInvalidFile, strict.String())
		}
		return File{}, fmt.Errorf("%w: %s", ErrInvalidFile, err.Error())
	}
	if strings.TrimSpace(file.Slug) == "" {
		return File{}, fmt.Errorf("%w: course slug is required", ErrInvalidFile)
	}
	return file, nil
}

// Importer creates or refreshes the nodes, activities and answer keys of a
// course file. Importing the same file twice leaves totals unchanged.
type Importer struct {
	nodes      repository.ContentNodeRepository
	activities service.ActivityService
	answerKeys service.AnswerKeyService
	logger     zerolog.Logger
}

// NewImporter constructs an importer.
func NewImporter(nodes repository.ContentNodeRepository, activities service.ActivityService, answerKeys service.AnswerKeyService, logger zerolog.Logger) *Importer {
	return &Importer{
		nodes:      nodes,
		activities: activities,
		answerKeys: answerKeys,
		logger:     logger.With().Str("component", "course_importer").Logger(),
	}
}

// Import parses data and applies it.
func (i *Importer) Import(ctx context.Context, data []byte) (Summary, error) {
	file, err := Parse(data)
	if err != nil {
		return Summary{}, err
	}
	return i.Apply(ctx, file)
}

// Apply writes a parsed course file. Nodes are upserted by slug top-down so
// every activity finds its ancestors in place when its totals propagate.
func (i *Importer) Apply(ctx context.Context, file File) (Summary, error) {
	summary := Summary{RootSlug: file.Slug}

	root, err := i.upsertNode(ctx, file.Slug, file.Title, models.NodeKindCourse, nil)
	if err != nil {
		return summary, err
	}
	summary.Nodes++
	summary.RootID = root

	for _, section := range file.Sections {
		if err := i.applySection(ctx, root, section, &summary); err != nil {
			return summary, err
		}
	}

	i.logger.Info().
		Str("course", file.Slug).
		Int("nodes", summary.Nodes).
		Int("activities", summary.Activities).
		Int("answer_keys", summary.AnswerKeys).
		Msg("course imported")
	return summary, nil
}

func (i *Importer) applySection(ctx context.Context, parent uint, section Section, summary *Summary) error {
	id, err := i.upsertNode(ctx, section.Slug, section.Title, models.NodeKindSection, &parent)
	if err != nil {
		return err
	}
	summary.Nodes++

	for _, child := range section.Sections {
		if err := i.applySection(ctx, id, child, summary); err != nil {
			return err
		}
	}
	for _, activity := range section.Activities {
		if err := i.applyActivity(ctx, id, activity, summary); err != nil {
			return err
		}
	}
	return nil
}

func (i *Importer) applyActivity(ctx context.Context, parent uint, activity Activity, summary *Summary) error {
	nodeID, err := i.upsertNode(ctx, activity.Slug, activity.Title, models.NodeKindActivity, &parent)
	if err != nil {
		return err
	}
	summary.Nodes++

	title := strings.TrimSpace(activity.Title)
	if title == "" {
		title = strings.TrimSpace(activity.Slug)
	}
	defined, err := i.activities.Define(ctx, dto.ActivityRequest{
		NodeID:     nodeID,
		Title:      title,
		Kind:       activity.Kind,
		Difficulty: activity.Difficulty,
		Points:     activity.Points,
		Stars:      activity.Stars,
		IOSpec:     activity.IOSpec,
		IOSpecSize: activity.IOSpecSize,
	})
	if err != nil {
		return fmt.Errorf("activity %s: %w", activity.Slug, err)
	}
	summary.Activities++

	for _, key := range activity.AnswerKeys {
		if _, err := i.answerKeys.Save(ctx, defined.ID, dto.AnswerKeyRequest{Language: key.Language, Source: key.Source}); err != nil {
			return fmt.Errorf("activity %s, %s answer key: %w", activity.Slug, key.Language, err)
		}
		summary.AnswerKeys++
	}
	return nil
}

func (i *Importer) upsertNode(ctx context.Context, slug, title, kind string, parent *uint) (uint, error) {
	slug = strings.TrimSpace(slug)
	if slug == "" {
		return 0, fmt.Errorf("%w: %s without slug", ErrInvalidFile, kind)
	}
	if strings.TrimSpace(title) == "" {
		title = slug
	}

	existing, err := i.nodes.GetBySlug(ctx, slug)
	switch {
	case err == nil:
		if !sameParent(existing.ParentID, parent) {
			return 0, fmt.Errorf("%w: %s", ErrNodeMoved, slug)
		}
	case errors.Is(err, gorm.ErrRecordNotFound):
	default:
		return 0, err
	}

	node := models.ContentNode{Slug: slug, Title: title, Kind: kind, ParentID: parent}
	if err := i.nodes.UpsertBySlug(ctx, &node); err != nil {
		return 0, fmt.Errorf("upsert %s: %w", slug, err)
	}
	return node.ID, nil
}

func sameParent(a, b *uint) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
