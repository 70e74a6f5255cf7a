package app

import (
	"context"
	"testing"
	"time"

	"collabit/api/internal/store"
)

func closedRecord(participant int, skills store.SkillTotals) store.SurveyRecord {
	return store.SurveyRecord{
		ID:          100,
		ProjectID:   7,
		OwnerID:     "u1",
		Total:       participant,
		Participant: participant,
		Skills:      skills,
		CompletedAt: timePtr(time.Now()),
	}
}

func testSkillDescriptions() []store.SkillDescription {
	descriptions := make([]store.SkillDescription, 0, len(store.SkillCodes))
	for _, code := range store.SkillCodes {
		descriptions = append(descriptions, store.SkillDescription{
			Code:        code,
			Name:        code + " name",
			Description: code + " description",
		})
	}
	return descriptions
}

func testSkillFeedback() []store.SkillFeedback {
	feedback := make([]store.SkillFeedback, 0, 2*len(store.SkillCodes))
	for _, code := range store.SkillCodes {
		feedback = append(feedback,
			store.SkillFeedback{Code: code, Positive: true, Feedback: code + " strength"},
			store.SkillFeedback{Code: code, Positive: false, Feedback: code + " growth area"},
		)
	}
	return feedback
}

func TestPersonalAverageRoundsToOneDecimal(t *testing.T) {
	dataStore := &fakeStore{
		getSurveyRecordFn: func(context.Context, int64) (store.SurveyRecord, error) {
			return closedRecord(4, store.SkillTotals{
				Sympathy:           20, // 5.0
				Listening:          13, // 3.25 -> 3.3
				Expression:         10, // 2.5
				ProblemSolving:     4,  // 1.0
				ConflictResolution: 7,  // 1.75 -> 1.8
				Leadership:         19, // 4.75 -> 4.8
			}), nil
		},
	}
	service := newTestService(dataStore, nil, nil)

	averages, err := service.PersonalAverage(context.Background(), 100)
	if err != nil {
		t.Fatalf("PersonalAverage failed: %v", err)
	}
	expected := map[string]float64{
		"sympathy":            5.0,
		"listening":           3.3,
		"expression":          2.5,
		"problem_solving":     1.0,
		"conflict_resolution": 1.8,
		"leadership":          4.8,
	}
	for code, want := range expected {
		if averages[code] != want {
			t.Errorf("%s: expected %v, got %v", code, want, averages[code])
		}
	}
}

func TestPersonalAverageRequiresClosedSurvey(t *testing.T) {
	dataStore := &fakeStore{
		getSurveyRecordFn: func(context.Context, int64) (store.SurveyRecord, error) {
			return store.SurveyRecord{ID: 100, OwnerID: "u1", Total: 4, Participant: 2}, nil
		},
	}
	service := newTestService(dataStore, nil, nil)

	_, err := service.PersonalAverage(context.Background(), 100)
	assertDomainCode(t, err, "INVALID_STATE")
}

func TestPersonalAverageUnknownRecord(t *testing.T) {
	service := newTestService(&fakeStore{}, nil, nil)

	_, err := service.PersonalAverage(context.Background(), 999)
	assertDomainCode(t, err, "NOT_FOUND")
}

func TestPersonalAverageZeroParticipants(t *testing.T) {
	dataStore := &fakeStore{
		getSurveyRecordFn: func(context.Context, int64) (store.SurveyRecord, error) {
			return closedRecord(0, store.SkillTotals{}), nil
		},
	}
	service := newTestService(dataStore, nil, nil)

	averages, err := service.PersonalAverage(context.Background(), 100)
	if err != nil {
		t.Fatalf("PersonalAverage failed: %v", err)
	}
	for _, code := range store.SkillCodes {
		if averages[code] != 0 {
			t.Errorf("%s: expected 0 with no participants, got %v", code, averages[code])
		}
	}
}

func TestGlobalAverage(t *testing.T) {
	dataStore := &fakeStore{
		getAggregateScoreFn: func(context.Context) (store.AggregateScore, error) {
			return store.AggregateScore{
				TotalParticipant: 10,
				Skills: store.SkillTotals{
					Sympathy: 35, Listening: 35, Expression: 35,
					ProblemSolving: 35, ConflictResolution: 35, Leadership: 35,
				},
			}, nil
		},
	}
	service := newTestService(dataStore, nil, nil)

	averages, err := service.GlobalAverage(context.Background())
	if err != nil {
		t.Fatalf("GlobalAverage failed: %v", err)
	}
	for _, code := range store.SkillCodes {
		if averages[code] != 3.5 {
			t.Errorf("%s: expected 3.5, got %v", code, averages[code])
		}
	}
}

func TestGlobalAverageMissingRollup(t *testing.T) {
	service := newTestService(&fakeStore{}, nil, nil)

	_, err := service.GlobalAverage(context.Background())
	assertDomainCode(t, err, "CONFIGURATION_MISSING")
}

func TestHexagonComparisonSelectsFeedbackByPolarity(t *testing.T) {
	dataStore := &fakeStore{
		getSurveyRecordFn: func(context.Context, int64) (store.SurveyRecord, error) {
			// Per-skill averages over 2 participants:
			// sympathy 5.0, listening 4.0, expression 3.0 (equal to
			// global), problem_solving 2.0, conflict_resolution 1.0,
			// leadership 3.5.
			return closedRecord(2, store.SkillTotals{
				Sympathy:           10,
				Listening:          8,
				Expression:         6,
				ProblemSolving:     4,
				ConflictResolution: 2,
				Leadership:         7,
			}), nil
		},
		getAggregateScoreFn: func(context.Context) (store.AggregateScore, error) {
			// Global average is a flat 3.0.
			return store.AggregateScore{
				TotalParticipant: 10,
				Skills: store.SkillTotals{
					Sympathy: 30, Listening: 30, Expression: 30,
					ProblemSolving: 30, ConflictResolution: 30, Leadership: 30,
				},
			}, nil
		},
		listSkillDescriptionsFn: func(context.Context) ([]store.SkillDescription, error) {
			return testSkillDescriptions(), nil
		},
		listSkillFeedbackFn: func(context.Context) ([]store.SkillFeedback, error) {
			return testSkillFeedback(), nil
		},
	}
	service := newTestService(dataStore, nil, nil)

	report, err := service.HexagonComparison(context.Background(), 100)
	if err != nil {
		t.Fatalf("HexagonComparison failed: %v", err)
	}
	if report.MinScore != 1 || report.MaxScore != 5 {
		t.Errorf("expected score range 1..5, got %d..%d", report.MinScore, report.MaxScore)
	}
	if len(report.PersonalSkillData) != len(store.SkillCodes) {
		t.Fatalf("expected %d skill entries, got %d", len(store.SkillCodes), len(report.PersonalSkillData))
	}
	if report.PersonalSkillData[0].Code != "sympathy" || report.PersonalSkillData[0].Score != 5.0 {
		t.Errorf("unexpected first skill entry: %+v", report.PersonalSkillData[0])
	}

	// Matching the global average counts as above, so expression joins
	// sympathy, listening and leadership.
	if len(report.AboveAverage) != 4 {
		t.Errorf("expected 4 above-average entries, got %+v", report.AboveAverage)
	}
	if len(report.BelowAverage) != 2 {
		t.Errorf("expected 2 below-average entries, got %+v", report.BelowAverage)
	}
	for _, entry := range report.AboveAverage {
		if entry.Feedback == "" || entry.Name == "" {
			t.Errorf("incomplete above-average entry: %+v", entry)
		}
	}
	if report.BelowAverage[0].Feedback != "problem_solving growth area" {
		t.Errorf("expected negative feedback for problem_solving, got %+v", report.BelowAverage[0])
	}
}

func TestHexagonComparisonFirstFeedbackPerPolarityWins(t *testing.T) {
	dataStore := &fakeStore{
		getSurveyRecordFn: func(context.Context, int64) (store.SurveyRecord, error) {
			return closedRecord(1, store.SkillTotals{
				Sympathy: 5, Listening: 5, Expression: 5,
				ProblemSolving: 5, ConflictResolution: 5, Leadership: 5,
			}), nil
		},
		getAggregateScoreFn: func(context.Context) (store.AggregateScore, error) {
			return store.AggregateScore{TotalParticipant: 1, Skills: store.SkillTotals{
				Sympathy: 3, Listening: 3, Expression: 3,
				ProblemSolving: 3, ConflictResolution: 3, Leadership: 3,
			}}, nil
		},
		listSkillDescriptionsFn: func(context.Context) ([]store.SkillDescription, error) {
			return testSkillDescriptions(), nil
		},
		listSkillFeedbackFn: func(context.Context) ([]store.SkillFeedback, error) {
			extra := append([]store.SkillFeedback{}, testSkillFeedback()...)
			return append(extra, store.SkillFeedback{Code: "sympathy", Positive: true, Feedback: "later duplicate"}), nil
		},
	}
	service := newTestService(dataStore, nil, nil)

	report, err := service.HexagonComparison(context.Background(), 100)
	if err != nil {
		t.Fatalf("HexagonComparison failed: %v", err)
	}
	if report.AboveAverage[0].Feedback != "sympathy strength" {
		t.Errorf("expected the first configured entry, got %+v", report.AboveAverage[0])
	}
}

func TestHexagonComparisonMissingReferenceData(t *testing.T) {
	base := func() *fakeStore {
		return &fakeStore{
			getSurveyRecordFn: func(context.Context, int64) (store.SurveyRecord, error) {
				return closedRecord(1, store.SkillTotals{
					Sympathy: 3, Listening: 3, Expression: 3,
					ProblemSolving: 3, ConflictResolution: 3, Leadership: 3,
				}), nil
			},
			getAggregateScoreFn: func(context.Context) (store.AggregateScore, error) {
				return store.AggregateScore{TotalParticipant: 1, Skills: store.SkillTotals{
					Sympathy: 3, Listening: 3, Expression: 3,
					ProblemSolving: 3, ConflictResolution: 3, Leadership: 3,
				}}, nil
			},
			listSkillDescriptionsFn: func(context.Context) ([]store.SkillDescription, error) {
				return testSkillDescriptions(), nil
			},
			listSkillFeedbackFn: func(context.Context) ([]store.SkillFeedback, error) {
				return testSkillFeedback(), nil
			},
		}
	}

	missingDescription := base()
	missingDescription.listSkillDescriptionsFn = func(context.Context) ([]store.SkillDescription, error) {
		return testSkillDescriptions()[1:], nil
	}
	service := newTestService(missingDescription, nil, nil)
	_, err := service.HexagonComparison(context.Background(), 100)
	assertDomainCode(t, err, "CONFIGURATION_MISSING")

	missingFeedback := base()
	missingFeedback.listSkillFeedbackFn = func(context.Context) ([]store.SkillFeedback, error) {
		feedback := testSkillFeedback()
		// Drop every positive leadership entry; the record is at the
		// global average, so the positive side is required.
		filtered := feedback[:0]
		for _, entry := range feedback {
			if entry.Code == "leadership" && entry.Positive {
				continue
			}
			filtered = append(filtered, entry)
		}
		return filtered, nil
	}
	service = newTestService(missingFeedback, nil, nil)
	_, err = service.HexagonComparison(context.Background(), 100)
	assertDomainCode(t, err, "CONFIGURATION_MISSING")
}
