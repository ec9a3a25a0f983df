package oee

import "github.com/sebastiankruger/shopfloor-oee/internal/errors"

// DefaultQualityAlertThreshold is the defect rate (percent) above which
// Quality.RequiresAlert fires when no threshold is configured.
const DefaultQualityAlertThreshold = 5.0

// QualityLevel is a qualitative grade derived from the defect rate.
type QualityLevel string

const (
	QualityPerfect    QualityLevel = "Perfect"
	QualityExcellent  QualityLevel = "Excellent"
	QualityGood       QualityLevel = "Good"
	QualityAcceptable QualityLevel = "Acceptable"
	QualityMarginal   QualityLevel = "Marginal"
	QualityPoor       QualityLevel = "Poor"
)

// Upper defect-rate bounds (inclusive, percent) for each level, in order.
var qualityBands = []struct {
	maxDefectRate float64
	level         QualityLevel
}{
	{0, QualityPerfect},
	{0.1, QualityExcellent},
	{1, QualityGood},
	{3, QualityAcceptable},
	{5, QualityMarginal},
}

// Quality is first-pass yield.
type Quality struct {
	goodPieces      int64
	defectivePieces int64
	totalPieces     int64
}

// NewQuality validates the counts. When totalPieces is nil it defaults to
// good plus defective; when given it must be at least that sum.
func NewQuality(goodPieces, defectivePieces int64, totalPieces *int64) (Quality, error) {
	if goodPieces < 0 {
		return Quality{}, negative("good pieces")
	}
	if defectivePieces < 0 {
		return Quality{}, negative("defective pieces")
	}

	total := goodPieces + defectivePieces
	if totalPieces != nil {
		if *totalPieces < total {
			return Quality{}, errors.New().New(errors.ErrTotalBelowCounted)
		}
		total = *totalPieces
	}

	return Quality{
		goodPieces:      goodPieces,
		defectivePieces: defectivePieces,
		totalPieces:     total,
	}, nil
}

func (q Quality) GoodPieces() int64      { return q.goodPieces }
func (q Quality) DefectivePieces() int64 { return q.defectivePieces }
func (q Quality) TotalPieces() int64     { return q.totalPieces }

// Percentage is 100 when nothing was produced: no production, no defects.
func (q Quality) Percentage() float64 {
	if q.totalPieces == 0 {
		return 100
	}
	return float64(q.goodPieces) / float64(q.totalPieces) * 100
}

// DefectRate is the defective share in percent.
func (q Quality) DefectRate() float64 {
	if q.totalPieces == 0 {
		return 0
	}
	return float64(q.defectivePieces) / float64(q.totalPieces) * 100
}

// DPMO is defects per million opportunities.
func (q Quality) DPMO() float64 {
	if q.totalPieces == 0 {
		return 0
	}
	return float64(q.defectivePieces) / float64(q.totalPieces) * 1_000_000
}

func (q Quality) CostImpact(unitCost float64) float64 {
	return float64(q.defectivePieces) * unitCost
}

// RequiresAlert fires when the defect rate exceeds threshold. A rate equal to
// the threshold does not alert.
func (q Quality) RequiresAlert(threshold float64) bool {
	return q.DefectRate() > threshold
}

func (q Quality) Level() QualityLevel {
	rate := q.DefectRate()
	for _, band := range qualityBands {
		if rate <= band.maxDefectRate {
			return band.level
		}
	}
	return QualityPoor
}

func (q Quality) MeetsTarget(threshold float64) bool {
	return meetsTarget(q.Percentage(), threshold)
}

func (q Quality) IsConstrainingFactor(otherA, otherB float64) bool {
	return isConstraining(q.Percentage(), otherA, otherB)
}
