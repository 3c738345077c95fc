package chat

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	ctrllog "sigs.k8s.io/controller-runtime/pkg/log"

	apperrors "github.com/aiapi-dev/aiapi/pkg/aiapi/errors"
	"github.com/aiapi-dev/aiapi/pkg/aiapi/session"
)

const (
	toolPrompt = "From the list of tools below:\n" +
		"- Reply ONLY with the number of the tool appropriate in response to the user's last message.\n" +
		"- If no tool is appropriate, ONLY reply with \"0\".\n\n%s"
	contextInstruction = "\n\nYou MUST use information from the context in your response."
	contextPrompt      = "Context: %s\n\nUser: %s"

	// firstDigitToken is the token id of "0"; "1".."9" follow it.
	firstDigitToken = 15
	logitBiasWeight = 100
)

// ContextTool gathers context for a prompt outside the function-call
// protocol.
type ContextTool struct {
	Name        string
	Description string
	Fetch       func(ctx context.Context, prompt string) (string, error)
}

// ToolReply is the result of GenWithTools. Tool and Context are empty when
// the model picked no tool.
type ToolReply struct {
	Response string
	Tool     string
	Context  string
}

// GenWithTools lets the model pick one of choices by number, runs it to
// obtain context and answers from that context. Only the user prompt and
// the final answer are recorded.
func (d *Dispatcher) GenWithTools(ctx context.Context, sess *session.Session, prompt string, choices []ContextTool, opts Options) (*ToolReply, error) {
	log := ctrllog.FromContext(ctx).WithName("chat-dispatcher")

	if len(choices) == 0 || len(choices) > 9 {
		return nil, apperrors.Newf(apperrors.ErrCodeInvalidInput,
			"tool selection needs between 1 and 9 tools, got %d", len(choices))
	}

	lines := make([]string, len(choices))
	for i, c := range choices {
		lines[i] = fmt.Sprintf("%d: %s", i+1, c.Description)
	}
	bias := make(map[string]int, len(choices)+1)
	for k := firstDigitToken; k <= firstDigitToken+len(choices); k++ {
		bias[strconv.Itoa(k)] = logitBiasWeight
	}

	pick, err := d.Gen(ctx, sess, prompt, Options{
		System: fmt.Sprintf(toolPrompt, strings.Join(lines, "\n")),
		Save:   session.Override(false),
		Params: map[string]interface{}{
			"temperature": 0.0,
			"max_tokens":  1,
			"logit_bias":  bias,
		},
	})
	if err != nil {
		return nil, err
	}

	idx, convErr := strconv.Atoi(strings.TrimSpace(pick))
	if convErr != nil || idx < 0 || idx > len(choices) {
		log.Info("Unusable tool selection, answering without a tool", "selection", pick)
		idx = 0
	}

	if idx == 0 {
		answer, err := d.Gen(ctx, sess, prompt, Options{System: opts.System, Params: opts.Params, Save: opts.Save})
		if err != nil {
			return nil, err
		}
		return &ToolReply{Response: answer}, nil
	}

	selected := choices[idx-1]
	log.V(1).Info("Selected context tool", "tool", selected.Name)
	contextText, err := selected.Fetch(ctx, prompt)
	if err != nil {
		return nil, err
	}

	system := opts.System
	if system == "" {
		system = sess.System
	}
	answer, err := d.Gen(ctx, sess, fmt.Sprintf(contextPrompt, contextText, prompt), Options{
		System: system + contextInstruction,
		Params: opts.Params,
		Save:   session.Override(false),
	})
	if err != nil {
		return nil, err
	}

	sess.AppendPair(session.NewMessage(session.RoleUser, prompt), session.NewMessage(session.RoleAssistant, answer), opts.Save)
	return &ToolReply{Response: answer, Tool: selected.Name, Context: contextText}, nil
}
