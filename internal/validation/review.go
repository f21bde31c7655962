package validation

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rcliao/brandkeeper/internal/errs"
	"github.com/rcliao/brandkeeper/internal/model"
)

const maxReviewIssues = 5

// review asks the completer for brand voice problems and returns each as an
// info issue. A timeout fails the validation; any other completer error is
// logged and the review contributes nothing.
func (e *Engine) review(ctx context.Context, in *Input) ([]model.ValidationIssue, error) {
	var voices []string
	for _, v := range in.Rules.Voice {
		voices = append(voices, humanize(v.Name))
	}
	prompt := fmt.Sprintf(`Review the draft below against a brand voice that is %s.
List at most %d concrete problems, one per line, each starting with "- ".
Reply with "- none" when the draft fits the voice.

%s`, strings.Join(voices, ", "), maxReviewIssues, in.Content)

	out, err := e.opts.Completer.Complete(ctx, prompt, e.opts.ReviewTimeout)
	if err != nil {
		if errs.KindOf(err) == errs.KindUpstreamTimeout {
			return nil, err
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, errs.Wrap(errs.KindUpstreamTimeout, "llm review", err)
		}
		e.logger.Warn("llm review failed", "error", err)
		return nil, nil
	}
	return parseReview(out), nil
}

func parseReview(out string) []model.ValidationIssue {
	var issues []model.ValidationIssue
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "- ") && !strings.HasPrefix(line, "* ") {
			continue
		}
		msg := strings.TrimSpace(line[2:])
		if msg == "" || strings.EqualFold(msg, "none") {
			continue
		}
		issues = append(issues, model.ValidationIssue{
			Type:     model.ValidateBrandVoice,
			Severity: model.SeverityInfo,
			Message:  "Review: " + msg,
		})
		if len(issues) == maxReviewIssues {
			break
		}
	}
	return issues
}
