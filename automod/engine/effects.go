package engine

import (
	"time"

	"github.com/MichaelMishaev/CommunityGuardBot-sub000/automod/audit"
	"github.com/MichaelMishaev/CommunityGuardBot-sub000/automod/ident"
	"github.com/MichaelMishaev/CommunityGuardBot-sub000/automod/listcache"
)

// Action is the primary outcome of a decision, ordered by severity.
type Action int

const (
	ActionAllow Action = iota
	ActionDelete
	ActionWarn
	ActionMute
	ActionKick
	ActionBan
)

func (a Action) String() string {
	switch a {
	case ActionDelete:
		return "delete"
	case ActionWarn:
		return "warn"
	case ActionMute:
		return "mute"
	case ActionKick:
		return "kick"
	case ActionBan:
		return "ban"
	default:
		return "allow"
	}
}

type CounterRef struct {
	Name string
	Key  string
}

type CounterDistinctRef struct {
	Name   string
	Bucket string
	Val    string
}

// Blacklist addition requested by a decision. Automatic decisions attempt the write while deciding, and record the result here; Apply retries anything which hasn't succeeded.
type BlacklistEffect struct {
	Reason string
	Result listcache.Result
	Err    error
	// false until a write has been attempted
	Attempted bool
}

func (b *BlacklistEffect) Done() bool {
	return b.Attempted && (b.Result == listcache.Added || b.Result == listcache.AlreadyPresent)
}

// Mutable container for all the side-effects of a decision, executed by Engine.Apply.
type Effects struct {
	// remove the triggering message
	DeleteMessage bool
	// remove the subject from the group
	Kick      bool
	Blacklist *BlacklistEffect
	// suspend the subject for this long
	MuteFor time.Duration
	// text posted to the group, eg a warning
	GroupMessage string
	// send a notification to the admin channel (and any other notifiers)
	Notify bool
	// Private moderation flags recorded against the subject.
	Flags                     []string
	CounterIncrements         []CounterRef
	CounterDistinctIncrements []CounterDistinctRef
}

func (e *Effects) Increment(name, key string) {
	e.CounterIncrements = append(e.CounterIncrements, CounterRef{Name: name, Key: key})
}

func (e *Effects) IncrementDistinct(name, bucket, val string) {
	e.CounterDistinctIncrements = append(e.CounterDistinctIncrements, CounterDistinctRef{Name: name, Bucket: bucket, Val: val})
}

func (e *Effects) AddFlag(flag string) {
	e.Flags = append(e.Flags, flag)
}

func (e *Effects) AddToBlacklist(reason string) {
	e.Blacklist = &BlacklistEffect{Reason: reason}
}

// Decision is the engine's verdict on one subject of one event.
type Decision struct {
	Action    Action
	Source    string
	Group     ident.Identity
	GroupName string
	Subject   ident.Identity
	// issuer of a manual action
	Actor     ident.Identity
	MessageID string
	Reasons   []string
	// invite codes which triggered the decision
	Codes   []string
	Effects Effects
	// side effects which failed in Apply, for reporting
	Failures []string
}

func (d *Decision) IsAllow() bool {
	return d.Action == ActionAllow && !d.Effects.Notify
}

func (d *Decision) addReason(r string) {
	d.Reasons = append(d.Reasons, r)
}

func (d *Decision) auditRecord() audit.Record {
	rec := audit.NewRecord(d.Source, d.Action.String())
	rec.Group = d.Group
	rec.Subject = d.Subject
	rec.Actor = d.Actor
	rec.Reasons = d.Reasons
	rec.Codes = d.Codes
	rec.Failures = d.Failures
	return rec
}
