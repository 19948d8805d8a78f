package rag

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
)

// Caps that bound curriculum helper output so downstream prompts stay small.
const (
	// maxSyntheticQueryTopics limits how many topic titles feed the
	// synthetic query built when the caller gives no explicit query.
	maxSyntheticQueryTopics = 5

	// maxRelatedResults caps the combined result count of RelatedContent.
	maxRelatedResults = 15
)

// Relation kinds accepted by RelatedContent.
const (
	RelationSimilar      = "similar"
	RelationPrerequisite = "prerequisite"
	RelationAdvanced     = "advanced"
)

// TopicSelection identifies a curriculum topic the student has picked in the
// study planner. Fields mirror the flattened curriculum metadata.
type TopicSelection struct {
	// Subject is the course name (e.g. "matematik").
	Subject string

	// Grade is the class level as a string (e.g. "9").
	Grade string

	// Title is the topic heading.
	Title string

	// Note is the optional free-text explanation attached to the topic.
	Note string
}

// SearchByTopics searches the curriculum collection for content related to
// the selected topics. When query is empty a synthetic query is built from
// the first few topic titles. Results are post-filtered to those whose
// subject, grade, or title overlaps a selection — vector neighbors that are
// close in embedding space but about different topics are dropped.
func (e *Engine) SearchByTopics(ctx context.Context, selected []TopicSelection, query string, n int) ([]Result, error) {
	if n <= 0 {
		n = 10
	}

	subjects := make(map[string]bool)
	grades := make(map[string]bool)
	for _, t := range selected {
		if t.Subject != "" {
			subjects[t.Subject] = true
		}
		if t.Grade != "" {
			grades[t.Grade] = true
		}
	}

	if query == "" {
		var titles []string
		for _, t := range selected {
			if t.Title != "" {
				titles = append(titles, t.Title)
			}
			if len(titles) == maxSyntheticQueryTopics {
				break
			}
		}
		query = strings.Join(titles, " ")
	}

	results, err := e.Search(ctx, query, &SearchOptions{
		Collections: []string{CollectionCurriculum},
		N:           n,
	})
	if err != nil {
		return nil, err
	}

	filtered := results[:0]
	for _, r := range results {
		if matchesSelection(r, selected, subjects, grades) {
			filtered = append(filtered, r)
		}
	}

	e.log.Info("rag: curriculum topic search",
		slog.Int("matched", len(filtered)),
		slog.Int("fetched", len(results)))
	return filtered, nil
}

// matchesSelection reports whether a curriculum hit relates to any selected
// topic by subject, grade, or title-word overlap with the content.
func matchesSelection(r Result, selected []TopicSelection, subjects, grades map[string]bool) bool {
	if len(subjects) > 0 && subjects[r.Metadata["subject"]] {
		return true
	}
	if len(grades) > 0 && grades[r.Metadata["grade"]] {
		return true
	}

	content := strings.ToLower(r.Content)
	for _, t := range selected {
		if t.Title == "" {
			continue
		}
		title := strings.ToLower(t.Title)
		if strings.Contains(content, title) {
			return true
		}
		for _, word := range strings.Fields(title) {
			if strings.Contains(content, word) {
				return true
			}
		}
	}
	return false
}

// RelatedContent finds curriculum content related to the selection by the
// given relation: same-grade topics for "similar", grade−1 for
// "prerequisite", grade+1 for "advanced". Sub-queries run per subject/grade
// pair; a non-numeric grade skips that prerequisite/advanced branch rather
// than failing. Results are deduplicated by ID and capped.
func (e *Engine) RelatedContent(ctx context.Context, selected []TopicSelection, relation string) ([]Result, error) {
	switch relation {
	case RelationSimilar, RelationPrerequisite, RelationAdvanced:
	default:
		return nil, fmt.Errorf("rag: unknown relation %q", relation)
	}

	pairs := subjectGradePairs(selected)

	var related []Result
	for _, p := range pairs {
		grade := p.grade
		perPair := 5
		var query string

		switch relation {
		case RelationSimilar:
			query = fmt.Sprintf("%s %s. sınıf", p.subject, grade)
		case RelationPrerequisite:
			g, err := strconv.Atoi(grade)
			if err != nil {
				continue
			}
			grade = strconv.Itoa(g - 1)
			query = fmt.Sprintf("%s %s. sınıf temel", p.subject, grade)
			perPair = 3
		case RelationAdvanced:
			g, err := strconv.Atoi(grade)
			if err != nil {
				continue
			}
			grade = strconv.Itoa(g + 1)
			query = fmt.Sprintf("%s %s. sınıf ileri", p.subject, grade)
			perPair = 3
		}

		hits, err := e.Search(ctx, query, &SearchOptions{
			Collections: []string{CollectionCurriculum},
			N:           perPair,
			Filter:      Metadata{"subject": p.subject, "grade": grade},
		})
		if err != nil {
			return nil, err
		}
		related = append(related, hits...)
	}

	seen := make(map[string]bool, len(related))
	unique := related[:0]
	for _, r := range related {
		if seen[r.ID] {
			continue
		}
		seen[r.ID] = true
		unique = append(unique, r)
		if len(unique) == maxRelatedResults {
			break
		}
	}

	e.log.Info("rag: related curriculum content",
		slog.String("relation", relation),
		slog.Int("results", len(unique)))
	return unique, nil
}

// subjectGrade is a distinct (subject, grade) pair found in a selection.
type subjectGrade struct {
	subject string
	grade   string
}

// subjectGradePairs extracts the distinct subject/grade pairs of a selection
// in deterministic order.
func subjectGradePairs(selected []TopicSelection) []subjectGrade {
	seen := make(map[subjectGrade]bool)
	var pairs []subjectGrade
	for _, t := range selected {
		if t.Subject == "" || t.Grade == "" {
			continue
		}
		p := subjectGrade{subject: t.Subject, grade: t.Grade}
		if !seen[p] {
			seen[p] = true
			pairs = append(pairs, p)
		}
	}
	return pairs
}

// Coverage status buckets.
const (
	CoverageHigh   = "High"
	CoverageMedium = "Medium"
	CoverageLow    = "Low"
)

// SubjectCoverage summarizes how much of one subject's indexed curriculum
// the student's selection spans.
type SubjectCoverage struct {
	// TotalAvailable is the number of indexed topics found for the subject.
	TotalAvailable int `json:"total_available_topics"`

	// SelectedCount is how many topics the student selected.
	SelectedCount int `json:"selected_topics_count"`

	// CoveragePercent is SelectedCount / TotalAvailable × 100.
	CoveragePercent float64 `json:"coverage_percentage"`

	// GradesCovered lists the distinct grades in the selection.
	GradesCovered []string `json:"grades_covered"`

	// MissingTopics samples up to ten indexed topic titles not selected.
	MissingTopics []string `json:"missing_topics_sample"`

	// Status buckets the coverage: High (>70%), Medium (>40%), Low.
	Status string `json:"coverage_status"`
}

// CoverageReport is the full output of CoverageAnalysis.
type CoverageReport struct {
	// TotalSelected is the overall number of selected topics.
	TotalSelected int `json:"total_selected_topics"`

	// SubjectsCovered is the number of distinct subjects in the selection.
	SubjectsCovered int `json:"subjects_covered"`

	// GradesCovered lists every distinct grade across subjects.
	GradesCovered []string `json:"grades_covered"`

	// AvgCoveragePercent averages the per-subject coverage percentages.
	AvgCoveragePercent float64 `json:"avg_coverage_per_subject"`

	// Subjects holds the per-subject breakdown.
	Subjects map[string]SubjectCoverage `json:"subject_analysis"`

	// Recommendations are human-readable study suggestions in Turkish.
	Recommendations []string `json:"recommendations"`
}

// CoverageAnalysis estimates, per subject, what fraction of the indexed
// curriculum the selection covers, and emits recommendations for
// low-coverage subjects and subjects confined to a single grade.
func (e *Engine) CoverageAnalysis(ctx context.Context, selected []TopicSelection) (*CoverageReport, error) {
	type subjectInfo struct {
		grades map[string]bool
		titles []string
	}

	subjects := make(map[string]*subjectInfo)
	allGrades := make(map[string]bool)
	for _, t := range selected {
		subject := t.Subject
		if subject == "" {
			subject = "Unknown"
		}
		info := subjects[subject]
		if info == nil {
			info = &subjectInfo{grades: make(map[string]bool)}
			subjects[subject] = info
		}
		if t.Grade != "" {
			info.grades[t.Grade] = true
			allGrades[t.Grade] = true
		}
		info.titles = append(info.titles, t.Title)
	}

	report := &CoverageReport{
		TotalSelected:   len(selected),
		SubjectsCovered: len(subjects),
		GradesCovered:   sortedKeys(allGrades),
		Subjects:        make(map[string]SubjectCoverage, len(subjects)),
	}

	subjectNames := make([]string, 0, len(subjects))
	for name := range subjects {
		subjectNames = append(subjectNames, name)
	}
	sort.Strings(subjectNames)

	var totalPercent float64
	for _, subject := range subjectNames {
		info := subjects[subject]

		available, err := e.Search(ctx, fmt.Sprintf("%s müfredat konular", subject), &SearchOptions{
			Collections: []string{CollectionCurriculum},
			N:           50,
			Filter:      Metadata{"subject": subject},
		})
		if err != nil {
			return nil, err
		}

		percent := 0.0
		if len(available) > 0 {
			percent = float64(len(info.titles)) / float64(len(available)) * 100
		}

		selectedTitles := make(map[string]bool, len(info.titles))
		for _, title := range info.titles {
			if title != "" {
				selectedTitles[strings.ToLower(title)] = true
			}
		}
		var missing []string
		for _, r := range available {
			title := r.Metadata["title"]
			if title == "" || selectedTitles[strings.ToLower(title)] {
				continue
			}
			missing = append(missing, title)
			if len(missing) == 10 {
				break
			}
		}

		status := CoverageLow
		switch {
		case percent > 70:
			status = CoverageHigh
		case percent > 40:
			status = CoverageMedium
		}

		report.Subjects[subject] = SubjectCoverage{
			TotalAvailable:  len(available),
			SelectedCount:   len(info.titles),
			CoveragePercent: round2(percent),
			GradesCovered:   sortedKeys(info.grades),
			MissingTopics:   missing,
			Status:          status,
		}
		totalPercent += percent

		if percent < 50 {
			report.Recommendations = append(report.Recommendations,
				fmt.Sprintf("%s dersinde daha fazla konu seçimi yaparak kapsamı artırabilirsiniz", subject))
		}
		if len(info.grades) < 2 {
			report.Recommendations = append(report.Recommendations,
				fmt.Sprintf("%s dersinde farklı sınıf seviyelerinden konular eklemeyi düşünün", subject))
		}
	}

	if len(subjects) > 0 {
		report.AvgCoveragePercent = round2(totalPercent / float64(len(subjects)))
	}
	return report, nil
}

// Context modes accepted by CurriculumContext.
const (
	ContextComprehensive = "comprehensive"
	ContextFocused       = "focused"
	ContextRelated       = "related"
)

// curriculumContextFallback is returned when context assembly fails entirely.
const curriculumContextFallback = "Müfredat bağlamı oluşturulamadı."

// CurriculumContext builds a rich bounded context string for the generative
// model from the selected topics: the selections themselves, detailed indexed
// content, and (for comprehensive/related modes) similar topics. Assembly
// failures degrade to a short Turkish fallback string.
func (e *Engine) CurriculumContext(ctx context.Context, selected []TopicSelection, mode string) string {
	curriculumResults, err := e.SearchByTopics(ctx, selected, "", 10)
	if err != nil {
		e.log.Error("rag: curriculum context search failed", slog.String("error", err.Error()))
		return curriculumContextFallback
	}

	var related []Result
	if mode == ContextComprehensive || mode == ContextRelated {
		related, err = e.RelatedContent(ctx, selected, RelationSimilar)
		if err != nil {
			e.log.Warn("rag: related content lookup failed", slog.String("error", err.Error()))
			related = nil
		}
	}

	var parts []string
	parts = append(parts, "=== SEÇİLEN MÜFREDAT KONULARI ===")
	for _, t := range selected {
		var fields []string
		if t.Subject != "" {
			fields = append(fields, "Ders: "+t.Subject)
		}
		if t.Grade != "" {
			fields = append(fields, "Sınıf: "+t.Grade)
		}
		if t.Title != "" {
			fields = append(fields, "Konu: "+t.Title)
		}
		if t.Note != "" {
			fields = append(fields, "Açıklama: "+t.Note)
		}
		parts = append(parts, strings.Join(fields, " | "))
	}

	if len(curriculumResults) > 0 {
		parts = append(parts, "\n=== DETAYLI MÜFREDAT İÇERİĞİ ===")
		for i, r := range curriculumResults {
			if i == 10 {
				break
			}
			var src []string
			if s := r.Metadata["subject"]; s != "" {
				src = append(src, "Ders: "+s)
			}
			if g := r.Metadata["grade"]; g != "" {
				src = append(src, "Sınıf: "+g)
			}
			if t := r.Metadata["title"]; t != "" {
				src = append(src, "Başlık: "+t)
			}
			parts = append(parts, fmt.Sprintf("[%d] %s\n%s", i+1, strings.Join(src, " | "), snippet(r.Content, 500)))
		}
	}

	if len(related) > 0 && mode == ContextComprehensive {
		parts = append(parts, "\n=== İLGİLİ KONULAR ===")
		for i, r := range related {
			if i == 5 {
				break
			}
			title := r.Metadata["title"]
			if title == "" {
				title = fmt.Sprintf("İlgili Konu %d", i+1)
			}
			parts = append(parts, fmt.Sprintf("[İlgili] %s: %s", title, snippet(r.Content, 300)))
		}
	}

	full := strings.Join(parts, "\n\n")
	e.log.Info("rag: curriculum context assembled",
		slog.Int("chars", len(full)),
		slog.Int("topics", len(selected)))
	return full
}

// sortedKeys returns the keys of a string set in ascending order.
func sortedKeys(set map[string]bool) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// round2 rounds v to two decimal places.
func round2(v float64) float64 {
	return float64(int(v*100+0.5)) / 100
}
