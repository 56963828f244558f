package command

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/MichaelMishaev/CommunityGuardBot-sub000/automod/engine"
	"github.com/MichaelMishaev/CommunityGuardBot-sub000/automod/ident"
	"github.com/MichaelMishaev/CommunityGuardBot-sub000/automod/modstore"
	"github.com/MichaelMishaev/CommunityGuardBot-sub000/automod/transport"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	member     = ident.Identity("972555123456@c.us")
	superadmin = ident.Identity("972500000009@c.us")
	foreigner  = ident.Identity("14165551234@c.us")
)

type writeFailStore struct {
	*modstore.MemStore
}

func (writeFailStore) Put(ctx context.Context, kind modstore.Kind, key string, rec modstore.Record) error {
	return errors.New("write failed")
}

func testDispatcher(store modstore.Store) (*Dispatcher, *engine.TestFixture) {
	fix := engine.EngineTestFixture(store)
	d := NewDispatcher(fix.Engine, fix.Transport, nil)
	d.Version = "test"
	return d, fix
}

func groupInv(name string, args ...string) Invocation {
	return Invocation{
		Name:   name,
		Args:   args,
		Chat:   engine.TestGroup,
		Sender: engine.TestGroupAdmin,
		Auth:   AuthAdmin,
	}
}

func privateInv(name string, auth Auth, args ...string) Invocation {
	return Invocation{
		Name:   name,
		Args:   args,
		Chat:   superadmin,
		Sender: superadmin,
		Auth:   auth,
	}
}

func lastText(fix *engine.TestFixture, chat ident.Identity) string {
	texts := fix.Transport.Texts(chat)
	if len(texts) == 0 {
		return ""
	}
	return texts[len(texts)-1]
}

func TestParse(t *testing.T) {
	assert := assert.New(t)

	testCases := []struct {
		text string
		name string
		args []string
		ok   bool
	}{
		{text: "#help", name: "help", args: []string{}, ok: true},
		{text: "  #Blacklist  972 50 123 ", name: "blacklist", args: []string{"972", "50", "123"}, ok: true},
		{text: "#MUTE 5", name: "mute", args: []string{"5"}, ok: true},
		{text: "hello #help", ok: false},
		{text: "#", ok: false},
		{text: "", ok: false},
	}
	for _, tc := range testCases {
		name, args, ok := Parse(tc.text)
		assert.Equal(tc.ok, ok, tc.text)
		if tc.ok {
			assert.Equal(tc.name, name, tc.text)
			assert.Equal(tc.args, args, tc.text)
		}
	}
}

func TestResolveAuth(t *testing.T) {
	assert := assert.New(t)
	supers := []ident.Identity{ident.Identity("972500000009@c.us")}

	assert.Equal(AuthSuperAdmin, ResolveAuth(ident.Identity("972500000009@s.whatsapp.net"), false, supers))
	assert.Equal(AuthAdmin, ResolveAuth(member, true, supers))
	assert.Equal(AuthNone, ResolveAuth(member, false, supers))
	assert.Equal(AuthNone, ResolveAuth(member, false, nil))
}

func TestDispatchPreconditions(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	testCases := []struct {
		desc    string
		inv     Invocation
		outcome Outcome
		reply   string
	}{
		{
			desc:    "unknown command",
			inv:     groupInv("frobnicate"),
			outcome: NotFound,
		},
		{
			desc:    "group command in private chat",
			inv:     privateInv("kick", AuthSuperAdmin),
			outcome: Handled,
			reply:   "only works inside a group",
		},
		{
			desc:    "private command in group",
			inv:     groupInv("whitelst"),
			outcome: Handled,
			reply:   "only works in a private chat",
		},
		{
			desc:    "not authorized",
			inv:     Invocation{Name: "kick", Chat: engine.TestGroup, Sender: member, Auth: AuthNone},
			outcome: Handled,
			reply:   "not authorized to use #kick",
		},
		{
			desc:    "admin is not superadmin",
			inv:     privateInv("clear", AuthAdmin),
			outcome: Handled,
			reply:   "not authorized to use #clear",
		},
		{
			desc:    "needs reply",
			inv:     groupInv("ban"),
			outcome: Handled,
			reply:   "Reply to a message with #ban",
		},
	}
	for _, tc := range testCases {
		d, fix := testDispatcher(nil)
		assert.Equal(tc.outcome, d.Dispatch(ctx, tc.inv), tc.desc)
		if tc.reply == "" {
			assert.Empty(fix.Transport.CallsOf(transport.CallSendText), tc.desc)
			continue
		}
		assert.Contains(lastText(fix, tc.inv.Chat), tc.reply, tc.desc)
		// preconditions never reach the handler
		assert.Empty(fix.Transport.CallsOf(transport.CallRemoveParticipant), tc.desc)
	}
}

func TestHelpFiltersByAuth(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	d, fix := testDispatcher(nil)

	d.Dispatch(ctx, Invocation{Name: "help", Chat: engine.TestGroup, Sender: member, Auth: AuthNone})
	help := lastText(fix, engine.TestGroup)
	assert.Contains(help, "#help")
	assert.NotContains(help, "#kick")

	d.Dispatch(ctx, groupInv("help"))
	help = lastText(fix, engine.TestGroup)
	assert.Contains(help, "#kick")
	assert.NotContains(help, "#sweep")
}

func TestKickAndBan(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	d, fix := testDispatcher(nil)

	inv := groupInv("kick")
	inv.Quoted = &Quoted{Sender: member, MessageID: "m1"}
	assert.Equal(Handled, d.Dispatch(ctx, inv))
	kicks := fix.Transport.CallsOf(transport.CallRemoveParticipant)
	require.Equal(t, 1, len(kicks))
	assert.Equal(member, kicks[0].Target)
	assert.Equal(1, len(fix.Transport.CallsOf(transport.CallDeleteMessage)))
	assert.Contains(lastText(fix, engine.TestGroup), "972555123456 was removed")

	inv = groupInv("ban")
	inv.Quoted = &Quoted{Sender: ident.Identity("972555999999@s.whatsapp.net")}
	d.Dispatch(ctx, inv)
	assert.Contains(lastText(fix, engine.TestGroup), "removed and blacklisted")
	ok, err := fix.Engine.Blacklist.Contains(ctx, ident.Identity("972555999999@c.us"))
	assert.NoError(err)
	assert.True(ok)

	// banning again reports the existing entry
	d.Dispatch(ctx, inv)
	assert.Contains(lastText(fix, engine.TestGroup), "already blacklisted")
}

func TestBanKickFailure(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	d, fix := testDispatcher(nil)
	fix.Transport.FailWith = errors.New("offline")

	inv := groupInv("ban")
	inv.Quoted = &Quoted{Sender: member}
	assert.Equal(Handled, d.Dispatch(ctx, inv))
	// the reply is attempted (and recorded) even though the transport is down
	assert.Contains(lastText(fix, engine.TestGroup), "#ban failed")
}

func TestWarn(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	d, fix := testDispatcher(nil)

	inv := groupInv("warn", "no", "spam")
	inv.Quoted = &Quoted{Sender: member}
	d.Dispatch(ctx, inv)
	assert.Equal("⚠️ Warning @972555123456: no spam", lastText(fix, engine.TestGroup))
	flags, err := fix.Flags.Get(ctx, member.String())
	assert.NoError(err)
	assert.Contains(flags, "warned")
}

func TestMuteUser(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	d, fix := testDispatcher(nil)

	inv := groupInv("mute", "5")
	inv.Quoted = &Quoted{Sender: member}
	d.Dispatch(ctx, inv)
	assert.Contains(lastText(fix, engine.TestGroup), "muted for 5 minutes")
	muted, err := fix.Engine.Mutes.IsMuted(ctx, member)
	assert.NoError(err)
	assert.True(muted)
	assert.Empty(fix.Transport.CallsOf(transport.CallSetAdminsOnly))

	inv = groupInv("unmute")
	inv.Quoted = &Quoted{Sender: member}
	d.Dispatch(ctx, inv)
	assert.Contains(lastText(fix, engine.TestGroup), "no longer muted")
	muted, err = fix.Engine.Mutes.IsMuted(ctx, member)
	assert.NoError(err)
	assert.False(muted)

	d.Dispatch(ctx, inv)
	assert.Contains(lastText(fix, engine.TestGroup), "is not muted")

	d.Dispatch(ctx, groupInv("mute", "soon"))
	assert.Contains(lastText(fix, engine.TestGroup), "Usage: #mute")
}

func TestMuteGroup(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	d, fix := testDispatcher(nil)

	d.Dispatch(ctx, groupInv("mute", "10"))
	calls := fix.Transport.CallsOf(transport.CallSetAdminsOnly)
	require.Equal(t, 1, len(calls))
	assert.True(calls[0].On)
	muted, err := fix.Engine.Mutes.IsMuted(ctx, engine.TestGroup)
	assert.NoError(err)
	assert.True(muted)

	// expiry is picked up by the sweep in #clear
	fix.Clock.Advance(11 * time.Minute)
	d.Dispatch(ctx, privateInv("clear", AuthSuperAdmin))
	calls = fix.Transport.CallsOf(transport.CallSetAdminsOnly)
	require.Equal(t, 2, len(calls))
	assert.False(calls[1].On)
	assert.Contains(lastText(fix, superadmin), "cleared 1 expired mutes")
}

func TestHandlerError(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	d, fix := testDispatcher(writeFailStore{modstore.NewMemStore()})

	assert.Equal(Handled, d.Dispatch(ctx, groupInv("mute", "10")))
	assert.Equal("❌ #mute failed. Please try again later.", lastText(fix, engine.TestGroup))
	assert.Empty(fix.Transport.CallsOf(transport.CallSetAdminsOnly))

	// list failures are answered by the handler itself
	d.Dispatch(ctx, groupInv("whitelist", "972555123456"))
	assert.Contains(lastText(fix, engine.TestGroup), "Could not update the whitelist")
}

func TestListCommands(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	d, fix := testDispatcher(nil)

	testCases := []struct {
		inv   Invocation
		reply string
	}{
		{inv: groupInv("whitelist", "+972 55-512-3456"), reply: "✅ 972555123456 added to the whitelist."},
		{inv: groupInv("whitelist", "972555123456@s.whatsapp.net"), reply: "ℹ️ 972555123456 is already on the whitelist."},
		{inv: groupInv("unwhitelist", "972555123456"), reply: "✅ 972555123456 removed from the whitelist."},
		{inv: groupInv("unwhitelist", "972555123456"), reply: "ℹ️ 972555123456 is not on the whitelist."},
		{inv: groupInv("blacklist", "@"), reply: "❌ That is not a valid number or identifier."},
		{inv: groupInv("blacklist"), reply: "ℹ️ Usage: #blacklist <number>, or reply to a message"},
		{inv: privateInv("blacklist", AuthAdmin, "14165551234"), reply: "✅ 14165551234 added to the blacklist."},
	}
	for _, tc := range testCases {
		d.Dispatch(ctx, tc.inv)
		assert.Equal(tc.reply, lastText(fix, tc.inv.Chat), strings.Join(tc.inv.Args, " "))
	}

	// quoted sender stands in for a missing argument
	inv := groupInv("blacklist")
	inv.Quoted = &Quoted{Sender: member}
	d.Dispatch(ctx, inv)
	assert.Equal("✅ 972555123456 added to the blacklist.", lastText(fix, engine.TestGroup))
	assert.Equal(2, fix.Engine.Blacklist.Len())
}

func TestListPaging(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	d, fix := testDispatcher(nil)
	d.PageSize = 2

	d.Dispatch(ctx, privateInv("blacklst", AuthAdmin))
	assert.Equal("📋 The blacklist is empty.", lastText(fix, superadmin))

	for _, n := range []string{"972511111111", "972522222222", "972533333333"} {
		_, err := fix.Engine.Blacklist.Add(ctx, ident.Normalize(n), "spam")
		require.NoError(t, err)
	}
	d.Dispatch(ctx, privateInv("blacklst", AuthAdmin))
	page := lastText(fix, superadmin)
	assert.Contains(page, "3 entries, page 1/2")
	assert.Contains(page, "1. 972511111111@c.us (spam)")
	assert.NotContains(page, "972533333333")

	d.Dispatch(ctx, privateInv("blacklst", AuthAdmin, "7"))
	page = lastText(fix, superadmin)
	assert.Contains(page, "page 2/2")
	assert.Contains(page, "3. 972533333333@c.us")
}

func groupWithMembers(fix *engine.TestFixture, id ident.Identity, members ...ident.Identity) {
	info := transport.GroupInfo{
		ID:           id,
		Name:         "Group " + id.LocalPart(),
		Participants: []transport.Participant{{ID: engine.TestGroupAdmin, IsAdmin: true}},
	}
	for _, m := range members {
		info.Participants = append(info.Participants, transport.Participant{ID: m})
	}
	fix.Transport.SetGroup(info)
}

func kickedTargets(fix *engine.TestFixture) []ident.Identity {
	var out []ident.Identity
	for _, c := range fix.Transport.CallsOf(transport.CallRemoveParticipant) {
		out = append(out, c.Target)
	}
	return out
}

func TestBotKick(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	d, fix := testDispatcher(nil)

	groupWithMembers(fix, engine.TestGroup, member, foreigner)
	_, err := fix.Engine.Blacklist.Add(ctx, ident.Identity("972555123456@s.whatsapp.net"), "spam")
	require.NoError(t, err)
	// admins are never removed, even if listed
	_, err = fix.Engine.Blacklist.Add(ctx, engine.TestGroupAdmin, "spam")
	require.NoError(t, err)

	d.Dispatch(ctx, groupInv("botkick"))
	assert.Equal([]ident.Identity{member}, kickedTargets(fix))
	assert.Equal("🧹 Removed 1 blacklisted members.", lastText(fix, engine.TestGroup))
}

func TestBotForeign(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	d, fix := testDispatcher(nil)
	assert.False(fix.Engine.Config.Country.Enabled)

	friend := ident.Identity("14165550000@c.us")
	linked := ident.Identity("12345678901@lid")
	groupWithMembers(fix, engine.TestGroup, member, foreigner, friend, linked)
	_, err := fix.Engine.Whitelist.Add(ctx, friend, "")
	require.NoError(t, err)

	d.Dispatch(ctx, groupInv("botforeign"))
	assert.Equal([]ident.Identity{foreigner}, kickedTargets(fix))
	assert.Contains(lastText(fix, engine.TestGroup), "Removed 1 members")
	// the command does not turn on automatic filtering
	assert.False(fix.Engine.Config.Country.Enabled)
}

func TestSweep(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	d, fix := testDispatcher(nil)

	other := ident.Identity("120363000000000002@g.us")
	groupWithMembers(fix, engine.TestGroup, member)
	groupWithMembers(fix, other, member, foreigner)
	_, err := fix.Engine.Blacklist.Add(ctx, member, "spam")
	require.NoError(t, err)

	assert.Equal(Handled, d.Dispatch(ctx, privateInv("sweep", AuthSuperAdmin)))
	assert.ElementsMatch([]ident.Identity{member, member}, kickedTargets(fix))
	assert.Equal("🧹 Swept 2 groups, removed 2 blacklisted members.", lastText(fix, superadmin))
}

func TestStatusAndStats(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	d, fix := testDispatcher(nil)

	inv := groupInv("kick")
	inv.Quoted = &Quoted{Sender: member, MessageID: "m1"}
	d.Dispatch(ctx, inv)

	d.Dispatch(ctx, groupInv("stats"))
	stats := lastText(fix, engine.TestGroup)
	assert.Contains(stats, "this group")
	assert.Contains(stats, "Kicks: 1 / 1")
	assert.Contains(stats, "Deleted messages: 1 / 1")

	d.Dispatch(ctx, privateInv("stats", AuthAdmin))
	assert.Contains(lastText(fix, superadmin), "1 groups")

	d.Dispatch(ctx, groupInv("status"))
	status := lastText(fix, engine.TestGroup)
	assert.Contains(status, "Guardbot test")
	assert.Contains(status, "Blacklisted: 0")
}
