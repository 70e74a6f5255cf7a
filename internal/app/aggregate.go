package app

import (
	"context"
	"database/sql"
	"errors"
	"math"

	"collabit/api/internal/store"
)

type SkillData struct {
	Code        string  `json:"code"`
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Score       float64 `json:"score"`
}

type FeedbackEntry struct {
	Name     string `json:"name"`
	Feedback string `json:"feedback"`
}

type HexagonReport struct {
	MinScore          int             `json:"minScore"`
	MaxScore          int             `json:"maxScore"`
	PersonalSkillData []SkillData     `json:"personalData"`
	AboveAverage      []FeedbackEntry `json:"aboveAverage"`
	BelowAverage      []FeedbackEntry `json:"belowAverage"`
}

// PersonalAverage computes the record's per-skill averages on the
// 1..5 scale. Only closed surveys have presentable averages.
func (s *Service) PersonalAverage(ctx context.Context, recordID int64) (map[string]float64, error) {
	record, err := s.store.GetSurveyRecord(ctx, recordID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("survey record not found")
	}
	if err != nil {
		return nil, err
	}
	if !record.Closed() {
		return nil, invalidState("survey is not closed yet")
	}
	return averageScores(record.Skills, record.Participant), nil
}

// GlobalAverage computes the per-skill averages over the global
// rollup of every closed survey.
func (s *Service) GlobalAverage(ctx context.Context) (map[string]float64, error) {
	rollup, err := s.store.GetAggregateScore(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, configurationMissing("aggregate score row is not seeded")
	}
	if err != nil {
		return nil, err
	}
	return averageScores(rollup.Skills, rollup.TotalParticipant), nil
}

// averageScores divides each accumulated sum by the participant count,
// rounded to one decimal. No participants means a flat zero.
func averageScores(totals store.SkillTotals, participant int) map[string]float64 {
	averages := make(map[string]float64, len(store.SkillCodes))
	for code, total := range totals.ByCode() {
		if participant > 0 {
			averages[code] = math.Round(float64(total)/float64(participant)*10) / 10
		} else {
			averages[code] = 0
		}
	}
	return averages
}

// HexagonComparison pairs the record's averages with the global
// baseline and selects one feedback entry per skill: positive when the
// personal average is at or above the global one, negative otherwise.
// Missing reference data is a configuration fault, not a request fault.
func (s *Service) HexagonComparison(ctx context.Context, recordID int64) (HexagonReport, error) {
	personal, err := s.PersonalAverage(ctx, recordID)
	if err != nil {
		return HexagonReport{}, err
	}
	global, err := s.GlobalAverage(ctx)
	if err != nil {
		return HexagonReport{}, err
	}

	descriptions, err := s.store.ListSkillDescriptions(ctx)
	if err != nil {
		return HexagonReport{}, err
	}
	descriptionByCode := make(map[string]store.SkillDescription, len(descriptions))
	for _, description := range descriptions {
		descriptionByCode[description.Code] = description
	}

	feedback, err := s.store.ListSkillFeedback(ctx)
	if err != nil {
		return HexagonReport{}, err
	}
	type polarity struct {
		positive *store.SkillFeedback
		negative *store.SkillFeedback
	}
	feedbackByCode := make(map[string]*polarity)
	for i := range feedback {
		entry := feedback[i]
		p, ok := feedbackByCode[entry.Code]
		if !ok {
			p = &polarity{}
			feedbackByCode[entry.Code] = p
		}
		// First entry per (code, polarity) wins.
		if entry.Positive && p.positive == nil {
			p.positive = &feedback[i]
		}
		if !entry.Positive && p.negative == nil {
			p.negative = &feedback[i]
		}
	}

	report := HexagonReport{
		MinScore:          1,
		MaxScore:          5,
		PersonalSkillData: make([]SkillData, 0, len(store.SkillCodes)),
		AboveAverage:      []FeedbackEntry{},
		BelowAverage:      []FeedbackEntry{},
	}

	for _, code := range store.SkillCodes {
		description, ok := descriptionByCode[code]
		if !ok {
			return HexagonReport{}, configurationMissing("no description configured for skill " + code)
		}
		report.PersonalSkillData = append(report.PersonalSkillData, SkillData{
			Code:        code,
			Name:        description.Name,
			Description: description.Description,
			Score:       personal[code],
		})

		entries := feedbackByCode[code]
		var selected *store.SkillFeedback
		if entries != nil {
			if personal[code] >= global[code] {
				selected = entries.positive
			} else {
				selected = entries.negative
			}
		}
		if selected == nil {
			return HexagonReport{}, configurationMissing("no feedback configured for skill " + code)
		}
		entry := FeedbackEntry{Name: description.Name, Feedback: selected.Feedback}
		if personal[code] >= global[code] {
			report.AboveAverage = append(report.AboveAverage, entry)
		} else {
			report.BelowAverage = append(report.BelowAverage, entry)
		}
	}

	return report, nil
}
