package imapx

import (
	"fmt"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/responses"
)

// The go-imap client has no METADATA (RFC 5464) or ANNOTATE (RFC 5257)
// support, so those commands are issued raw. Kolab stores folder types
// and the tag registry in metadata and per-message tag membership in
// annotations.

type rawCommand struct {
	name string
	args []interface{}
}

func (cmd *rawCommand) Command() *imap.Command {
	return &imap.Command{Name: cmd.name, Arguments: cmd.args}
}

type metadataResponse struct {
	mailbox string
	entries map[string]string
}

func (r *metadataResponse) Handle(resp imap.Resp) error {
	name, fields, ok := imap.ParseNamedResp(resp)
	if !ok || name != "METADATA" {
		return responses.ErrUnhandled
	}
	if len(fields) < 2 {
		return fmt.Errorf("malformed METADATA response")
	}

	list, ok := fields[1].([]interface{})
	if !ok {
		return fmt.Errorf("malformed METADATA entry list")
	}
	for i := 0; i+1 < len(list); i += 2 {
		key, err := imap.ParseString(list[i])
		if err != nil {
			return err
		}
		if list[i+1] == nil {
			continue
		}
		value, err := imap.ParseString(list[i+1])
		if err != nil {
			return err
		}
		r.entries[key] = value
	}
	return nil
}

// GetMetadata reads mailbox metadata entries. Entries the server does
// not have are left out of the result.
func (c *Client) GetMetadata(mailbox string, entries []string) (map[string]string, error) {
	list := make([]interface{}, len(entries))
	for i, e := range entries {
		list[i] = e
	}

	cmd := &rawCommand{name: "GETMETADATA", args: []interface{}{mailbox, list}}
	res := &metadataResponse{mailbox: mailbox, entries: make(map[string]string)}

	status, err := c.client.Execute(cmd, res)
	if err != nil {
		return nil, fmt.Errorf("GETMETADATA failed: %w", err)
	}
	if err := status.Err(); err != nil {
		return nil, fmt.Errorf("GETMETADATA failed: %w", err)
	}
	return res.entries, nil
}

// SetMetadata writes mailbox metadata entries.
func (c *Client) SetMetadata(mailbox string, entries map[string]string) error {
	var list []interface{}
	for k, v := range entries {
		list = append(list, k, v)
	}

	cmd := &rawCommand{name: "SETMETADATA", args: []interface{}{mailbox, list}}

	status, err := c.client.Execute(cmd, &discardResponse{})
	if err != nil {
		return fmt.Errorf("SETMETADATA failed: %w", err)
	}
	if err := status.Err(); err != nil {
		return fmt.Errorf("SETMETADATA failed: %w", err)
	}
	return nil
}

// SetAnnotation stores a private per-message annotation on a set of
// messages in the selected mailbox.
func (c *Client) SetAnnotation(mailbox string, uids []uint32, entry, value string) error {
	if len(uids) == 0 {
		return nil
	}
	if _, err := c.Select(mailbox, false); err != nil {
		return err
	}

	seq := new(imap.SeqSet)
	for _, uid := range uids {
		seq.AddNum(uid)
	}

	cmd := &rawCommand{
		name: "UID STORE",
		args: []interface{}{
			imap.RawString(seq.String()),
			imap.RawString("ANNOTATION"),
			[]interface{}{entry, []interface{}{"value.priv", value}},
		},
	}

	status, err := c.client.Execute(cmd, &discardResponse{})
	if err != nil {
		return fmt.Errorf("ANNOTATION store failed: %w", err)
	}
	if err := status.Err(); err != nil {
		return fmt.Errorf("ANNOTATION store failed: %w", err)
	}
	return nil
}

type discardResponse struct{}

func (r *discardResponse) Handle(resp imap.Resp) error {
	return responses.ErrUnhandled
}
