package xray

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/AbdelazizMoustafa10m/xraysync/internal/jsonutil"
	"github.com/AbdelazizMoustafa10m/xraysync/internal/model"
)

// Relation names an Xray issue-link listing.
type Relation string

const (
	RelationPreconditions Relation = "preconditions"
	RelationTestsOfSet    Relation = "tests-of-set"
	RelationTestsOfPlan   Relation = "tests-of-plan"
	RelationSetsOfTest    Relation = "sets-of-test"
	RelationPlansOfTest   Relation = "plans-of-test"
)

var relationRoutes = map[Relation]string{
	RelationPreconditions: "/api/internal/issuelinks/test/%s/preConditions",
	RelationTestsOfSet:    "/api/internal/issuelinks/testset/%s/tests",
	RelationTestsOfPlan:   "/api/internal/testplan/%s/tests",
	RelationSetsOfTest:    "/api/internal/issuelinks/testset/%s/tests?direction=inward",
	RelationPlansOfTest:   "/api/internal/issuelinks/testPlan/%s/tests?direction=inward",
}

// Linked lists the ids of issues related to issue. It opens a session scoped
// to the issue and closes it before returning.
func (c *Client) Linked(ctx context.Context, rel Relation, issue model.Issue) ([]string, error) {
	route, ok := relationRoutes[rel]
	if !ok {
		return nil, fmt.Errorf("unknown relation %q", rel)
	}

	session, err := c.Open(ctx, issue.Key)
	if err != nil {
		return nil, err
	}
	defer session.Close()

	body, err := session.Get(ctx, fmt.Sprintf(route, url.PathEscape(issue.ID)))
	if err != nil {
		return nil, err
	}
	var items []any
	if err := json.Unmarshal(body, &items); err != nil {
		return nil, fmt.Errorf("decoding %s of %s: %w", rel, issue.Key, err)
	}
	return jsonutil.Strings(any(items), "id"), nil
}
