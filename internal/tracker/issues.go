package tracker

import (
	"errors"
	"fmt"

	"github.com/wesm/repo-tracker/internal/models"
)

// ErrMissingIssueDigest is returned when an issue fetched from GitHub has no
// digest, which means it wasn't built correctly.
var ErrMissingIssueDigest = errors.New("issue from github has no digest")

// IssueChanges holds the changes needed for the issues stored for a
// repository to match the ones in GitHub
type IssueChanges struct {
	// New issues, or issues whose digest changed
	Upsert []*models.Issue
	// Issues no longer open in GitHub
	Delete []*models.Issue
}

// ReconcileIssues compares the issues in GitHub with the ones stored,
// matching them by id.
func ReconcileIssues(issuesInGH, issuesInDB []*models.Issue) (*IssueChanges, error) {
	digestsInDB := make(map[int64]string, len(issuesInDB))
	for _, issue := range issuesInDB {
		digestsInDB[issue.ID] = issue.Digest
	}

	changes := &IssueChanges{}
	inGH := make(map[int64]struct{}, len(issuesInGH))
	for _, issue := range issuesInGH {
		if issue.Digest == "" {
			return nil, fmt.Errorf("%w: issue #%d (id %d)", ErrMissingIssueDigest, issue.Number, issue.ID)
		}
		// The same issue may show up twice if pages shifted while fetching
		if _, seen := inGH[issue.ID]; seen {
			continue
		}
		inGH[issue.ID] = struct{}{}

		digest, found := digestsInDB[issue.ID]
		if !found || digest == "" || digest != issue.Digest {
			changes.Upsert = append(changes.Upsert, issue)
		}
	}

	for _, issue := range issuesInDB {
		if _, found := inGH[issue.ID]; !found {
			changes.Delete = append(changes.Delete, issue)
		}
	}

	return changes, nil
}
