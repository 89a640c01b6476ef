// Package discord provides an [audio.Platform] implementation backed by
// Discord voice channels via the bwmarrin/discordgo library. It bridges
// Discord's Opus-based voice transport with Antiphon's PCM [audio.Frame]
// pipeline.
//
// The platform requires an active *discordgo.Session (owned by the host
// application) and a guild ID. Each call to [Platform.Connect] joins the
// specified voice channel and returns a [Connection] carrying one merged
// microphone input stream and one agent output stream.
package discord

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/antiphonlabs/antiphon/pkg/audio"
	"github.com/antiphonlabs/antiphon/pkg/fault"
	"github.com/bwmarrin/discordgo"
)

// Compile-time interface assertion.
var _ audio.Platform = (*Platform)(nil)

// Platform implements [audio.Platform] using a discordgo voice connection.
// It requires an active *discordgo.Session (owned by the host application).
//
// Platform is safe for concurrent use.
type Platform struct {
	session *discordgo.Session
	guildID string
}

// New creates a new Discord Platform for the given session and guild.
func New(session *discordgo.Session, guildID string) *Platform {
	return &Platform{
		session: session,
		guildID: guildID,
	}
}

// Connect joins the voice channel identified by channelID and returns an
// active [audio.Connection]. The supplied ctx governs the connection-setup
// phase only; once the Connection is returned it lives until
// [Connection.Disconnect] is called.
//
// Permission failures come back as [fault.KindPermissionDenied] and a voice
// handshake that never completes as [fault.KindDeviceBusy], so the session
// layer can decide between failing the start and continuing text-only.
func (p *Platform) Connect(ctx context.Context, channelID string) (audio.Connection, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("discord: connect: %w", err)
	}

	// Check the bot's channel permissions up front when the state cache has
	// them; a denied join via the gateway would otherwise surface as a
	// handshake timeout.
	if me := p.session.State.User; me != nil {
		perms, err := p.session.State.UserChannelPermissions(me.ID, channelID)
		if err == nil && perms&discordgo.PermissionVoiceConnect == 0 {
			return nil, fault.New(fault.KindPermissionDenied, "discord.connect",
				fmt.Errorf("missing connect permission for channel %s", channelID))
		}
	}

	// mute=false (we send audio), deaf=false (we receive audio).
	vc, err := p.session.ChannelVoiceJoin(p.guildID, channelID, false, false)
	if err != nil {
		return nil, classifyJoinError(channelID, err)
	}

	return newConnection(vc), nil
}

// classifyJoinError maps Discord join failures onto the fault taxonomy.
func classifyJoinError(channelID string, err error) error {
	var rest *discordgo.RESTError
	if errors.As(err, &rest) && rest.Message != nil {
		switch rest.Message.Code {
		case discordgo.ErrCodeMissingAccess, discordgo.ErrCodeMissingPermissions:
			return fault.New(fault.KindPermissionDenied, "discord.connect", err)
		}
	}
	if strings.Contains(err.Error(), "timeout waiting for voice") {
		// The gateway accepted the join but the voice handshake never
		// completed; the channel is not available to us right now.
		return fault.New(fault.KindDeviceBusy, "discord.connect", err)
	}
	return fmt.Errorf("discord: join voice channel %q: %w", channelID, err)
}
