package bokun

import (
	"strings"

	"github.com/oldtowntours/ticketdesk/internal/models"
)

// Extraction tries each known participant shape in a fixed priority order
// and keeps the first non-empty result. Shape holds which one won so the
// caller can log data-quality warnings when shapes disagree.
type Extraction struct {
	Participants []models.Participant
	Shape        string
	// Conflicting is set when a lower-priority shape would have produced
	// a different participant count.
	Conflicting bool
}

const (
	ShapePassengers        = "passengers"
	ShapePricingCategories = "pricing_category_bookings"
	ShapeAnswers           = "booking_answers"
	ShapeNone              = "none"
)

// ExtractParticipants normalizes participant names from a product
// sub-booking detail. Priority: flat passenger list, then pricing-category
// bookings, then free-form question/answer pairs. The result is never nil;
// an empty slice means the upstream listed nobody.
func ExtractParticipants(pb *ProductBookingDetails) Extraction {
	fromPassengers := passengersShape(pb)
	fromCategories := categoriesShape(pb)
	fromAnswers := answersShape(pb)

	candidates := []struct {
		shape string
		list  []models.Participant
	}{
		{ShapePassengers, fromPassengers},
		{ShapePricingCategories, fromCategories},
		{ShapeAnswers, fromAnswers},
	}

	result := Extraction{Participants: []models.Participant{}, Shape: ShapeNone}
	for _, c := range candidates {
		if len(c.list) > 0 {
			result.Participants = c.list
			result.Shape = c.shape
			break
		}
	}

	// Flag disagreement between simultaneously-present shapes.
	for _, c := range candidates {
		if c.shape != result.Shape && len(c.list) > 0 && len(c.list) != len(result.Participants) {
			result.Conflicting = true
		}
	}

	return result
}

func passengersShape(pb *ProductBookingDetails) []models.Participant {
	var out []models.Participant
	for _, p := range pb.Passengers {
		name := joinName(p.FirstName, p.LastName)
		if name == "" {
			continue
		}
		out = append(out, models.Participant{Name: name, Category: p.PricingCategory})
	}
	return out
}

func categoriesShape(pb *ProductBookingDetails) []models.Participant {
	var out []models.Participant
	for _, pcb := range pb.PricingCategoryBookings {
		if pcb.PassengerInfo == nil {
			continue
		}
		name := joinName(pcb.PassengerInfo.FirstName, pcb.PassengerInfo.LastName)
		if name == "" {
			continue
		}
		out = append(out, models.Participant{Name: name, Category: pcb.PricingCategory.Title})
	}
	return out
}

// answersShape scrapes participant names out of free-form booking
// questions. Only questions that mention a participant or passenger name
// are considered.
func answersShape(pb *ProductBookingDetails) []models.Participant {
	var out []models.Participant
	for _, qa := range pb.BookingAnswers {
		q := strings.ToLower(qa.Question)
		if !strings.Contains(q, "name") {
			continue
		}
		if !strings.Contains(q, "participant") && !strings.Contains(q, "passenger") && !strings.Contains(q, "guest") {
			continue
		}
		answer := strings.TrimSpace(qa.Answer)
		if answer == "" {
			continue
		}
		// A single answer may list several names separated by commas or
		// newlines.
		for _, part := range strings.FieldsFunc(answer, func(r rune) bool { return r == ',' || r == '\n' || r == ';' }) {
			name := strings.TrimSpace(part)
			if name != "" {
				out = append(out, models.Participant{Name: name})
			}
		}
	}
	return out
}

func joinName(first, last string) string {
	return strings.TrimSpace(strings.TrimSpace(first) + " " + strings.TrimSpace(last))
}
