package storage

import (
	"fmt"

	"github.com/Epistemic-Technology/trialqa/models"
)

// TrialResourceURI is the resource listing every Q&A item of a trial.
func TrialResourceURI(trialID string) string {
	return fmt.Sprintf("qa://%s", trialID)
}

// ItemResourceURI is the resource for a single Q&A item.
func ItemResourceURI(trialID, itemID string) string {
	return fmt.Sprintf("qa://%s/%s", trialID, itemID)
}

// CalculateResourcePaths lists the resource URIs a saved item can be read
// through.
func CalculateResourcePaths(item *models.QAItem) []string {
	return []string{
		TrialResourceURI(item.TrialID),
		ItemResourceURI(item.TrialID, item.ID),
	}
}
