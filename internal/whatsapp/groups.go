package whatsapp

import (
	"context"
	"fmt"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/types"

	"github.com/openclaw/wa-relay-go/internal/model"
)

func (c *Client) JoinedGroups(ctx context.Context) ([]model.Group, error) {
	infos, err := c.wa.GetJoinedGroups(ctx)
	if err != nil {
		return nil, err
	}
	groups := make([]model.Group, 0, len(infos))
	for _, info := range infos {
		if info != nil {
			groups = append(groups, groupFromInfo(info))
		}
	}
	return groups, nil
}

func (c *Client) CreateGroup(ctx context.Context, name string, participants []string) (*model.Group, error) {
	jids, err := parseJIDs(participants)
	if err != nil {
		return nil, err
	}
	info, err := c.wa.CreateGroup(ctx, whatsmeow.ReqCreateGroup{Name: name, Participants: jids})
	if err != nil {
		return nil, err
	}
	group := groupFromInfo(info)
	return &group, nil
}

func (c *Client) UpdateParticipants(ctx context.Context, group string, participants []string, action model.ParticipantAction) error {
	groupJID, err := parseJID(group)
	if err != nil {
		return err
	}
	jids, err := parseJIDs(participants)
	if err != nil {
		return err
	}
	change, err := participantChange(action)
	if err != nil {
		return err
	}
	_, err = c.wa.UpdateGroupParticipants(ctx, groupJID, jids, change)
	return err
}

func (c *Client) LeaveGroup(ctx context.Context, group string) error {
	jid, err := parseJID(group)
	if err != nil {
		return err
	}
	return c.wa.LeaveGroup(ctx, jid)
}

func (c *Client) GroupInviteLink(ctx context.Context, group string, reset bool) (string, error) {
	jid, err := parseJID(group)
	if err != nil {
		return "", err
	}
	return c.wa.GetGroupInviteLink(ctx, jid, reset)
}

func participantChange(action model.ParticipantAction) (whatsmeow.ParticipantChange, error) {
	switch action {
	case model.ParticipantAdd:
		return whatsmeow.ParticipantChangeAdd, nil
	case model.ParticipantRemove:
		return whatsmeow.ParticipantChangeRemove, nil
	case model.ParticipantPromote:
		return whatsmeow.ParticipantChangePromote, nil
	case model.ParticipantDemote:
		return whatsmeow.ParticipantChangeDemote, nil
	}
	return "", fmt.Errorf("unknown participant action %q", action)
}

func groupFromInfo(info *types.GroupInfo) model.Group {
	group := model.Group{
		Address:      info.JID.String(),
		Name:         info.Name,
		Topic:        info.Topic,
		Participants: make([]model.GroupParticipant, 0, len(info.Participants)),
	}
	if !info.OwnerJID.IsEmpty() {
		group.Owner = info.OwnerJID.String()
	}
	if !info.GroupCreated.IsZero() {
		created := info.GroupCreated
		group.CreatedAt = &created
	}
	for _, p := range info.Participants {
		group.Participants = append(group.Participants, model.GroupParticipant{
			Address:      p.JID.String(),
			IsAdmin:      p.IsAdmin,
			IsSuperAdmin: p.IsSuperAdmin,
		})
	}
	return group
}
