package automation

import (
	"context"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"meshgate/internal/bus"
	"meshgate/internal/domain"
)

const taskResponder = "auto-responder"

type compiledRule struct {
	rule    ResponderRule
	trigger *Trigger
}

// Responder answers inbound texts whose content matches a trigger
// pattern with a text, the body of an HTTP GET, or a script's stdout.
type Responder struct {
	deps   Deps
	logger *slog.Logger

	mu      sync.Mutex
	enabled bool
	rules   []compiledRule
}

func NewResponder(deps Deps, settings ResponderSettings) *Responder {
	r := &Responder{deps: deps, logger: deps.taskLogger(taskResponder)}
	r.Configure(settings)

	return r
}

// Configure swaps the rule set; rules with bad triggers are dropped with
// a logged error, the rest stay live.
func (r *Responder) Configure(settings ResponderSettings) {
	compiled := make([]compiledRule, 0, len(settings.Rules))
	for _, rule := range settings.Rules {
		trigger, err := CompileTrigger(rule.Trigger)
		if err != nil {
			r.logger.Error("responder rule dropped", "trigger", rule.Trigger, "error", err)

			continue
		}
		compiled = append(compiled, compiledRule{rule: rule, trigger: trigger})
	}

	r.mu.Lock()
	r.enabled = settings.Enabled
	r.rules = compiled
	r.mu.Unlock()
}

// Run consumes stored messages until ctx ends.
func (r *Responder) Run(ctx context.Context) {
	sub := r.deps.Bus.Subscribe(bus.TopicMessage)
	defer r.deps.Bus.Unsubscribe(sub, bus.TopicMessage)

	for {
		select {
		case <-ctx.Done():
			return
		case raw, ok := <-sub:
			if !ok {
				return
			}
			msg, ok := raw.(domain.Message)
			if !ok {
				continue
			}
			r.handle(ctx, msg)
		}
	}
}

func (r *Responder) handle(ctx context.Context, msg domain.Message) {
	r.mu.Lock()
	enabled := r.enabled
	rules := r.rules
	r.mu.Unlock()

	if !enabled || msg.Text == "" {
		return
	}
	// Never respond to our own traffic.
	if msg.FromNodeNum == r.deps.Store.LocalNodeNum() {
		return
	}

	for _, cr := range rules {
		if !r.ruleApplies(cr.rule, msg) {
			continue
		}
		params, ok := cr.trigger.Match(strings.TrimSpace(msg.Text))
		if !ok {
			continue
		}
		r.respond(ctx, cr.rule, msg, params)

		// First matching rule wins.
		return
	}
}

func (r *Responder) ruleApplies(rule ResponderRule, msg domain.Message) bool {
	if len(rule.Channels) > 0 && !slices.Contains(rule.Channels, msg.Channel) {
		return false
	}
	if rule.SkipIncompleteNodes {
		node, ok := r.deps.Store.Node(msg.FromNodeNum)
		if !ok || node.LongName == "" {
			return false
		}
	}

	return true
}

func (r *Responder) respond(ctx context.Context, rule ResponderRule, msg domain.Message, params map[string]string) {
	var (
		reply string
		err   error
	)

	switch {
	case rule.Script != "":
		reply, err = runScript(ctx, rule.Script, params)
	case rule.URL != "":
		reply, err = fetchReply(ctx, expandParams(rule.URL, params))
	default:
		reply = expandParams(rule.Reply, params)
	}
	if err != nil {
		r.logger.Warn("responder action failed", "trigger", rule.Trigger, "error", err)
		r.deps.audit(taskResponder, msg.FromNodeNum, domain.AuditOutcomeError, err.Error())

		return
	}
	if reply == "" {
		return
	}

	to, channel := replyTarget(msg)
	if _, err := r.deps.Radio.SendText(ctx, to, channel, reply); err != nil {
		r.logger.Warn("responder send failed", "error", err)
		r.deps.audit(taskResponder, msg.FromNodeNum, domain.AuditOutcomeError, err.Error())

		return
	}
	r.deps.audit(taskResponder, msg.FromNodeNum, domain.AuditOutcomeSent, rule.Trigger)
}

// replyTarget answers DMs as DMs and channel messages on their channel.
func replyTarget(msg domain.Message) (to uint32, channel uint32) {
	if msg.IsDirect() {
		return msg.FromNodeNum, 0
	}

	return domain.BroadcastNodeNum, uint32(msg.Channel)
}

// expandParams substitutes {name} occurrences in a reply template or URL
// with the captured values.
func expandParams(template string, params map[string]string) string {
	out := template
	for name, value := range params {
		out = strings.ReplaceAll(out, "{"+name+"}", value)
	}

	return out
}
