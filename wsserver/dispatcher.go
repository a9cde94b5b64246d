package wsserver

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gorilla/websocket"

	"github.com/storagefabric/fabric/bucket"
	"github.com/storagefabric/fabric/cryptosession"
	"github.com/storagefabric/fabric/protocol"
	"github.com/storagefabric/fabric/storage"
)

// requestLoop reads AEAD-framed requests off the websocket until it closes,
// dispatching each to dispatch and writing back a Response. A frame that
// fails to decode or decrypt gets an unencrypted error frame and the loop
// continues.
func (c *connection) requestLoop(ctx context.Context) {
	for {
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Debugf("wsserver: connection %s closed unexpectedly: %v", c.id, err)
			}
			return
		}

		var wire string
		if err := json.Unmarshal(raw, &wire); err != nil {
			c.sendUnencrypted(protocol.NewErrorFrame("malformed frame"))
			continue
		}

		c.mu.Lock()
		sess := c.session
		c.mu.Unlock()

		plaintext, err := cryptosession.DecryptFrame(sess, wire)
		if err != nil {
			c.sendUnencrypted(protocol.NewErrorFrame("decrypt failed"))
			continue
		}

		var req protocol.Request
		if err := json.Unmarshal(plaintext, &req); err != nil {
			c.sendUnencrypted(protocol.NewErrorFrame("malformed request"))
			continue
		}

		resp := c.dispatch(ctx, req)
		c.replyEncrypted(resp)
	}
}

func (c *connection) replyEncrypted(resp protocol.Response) {
	encoded, err := json.Marshal(resp)
	if err != nil {
		return
	}

	c.mu.Lock()
	sess := c.session
	c.mu.Unlock()

	frame, err := cryptosession.EncryptFrame(sess, encoded)
	if err != nil {
		c.logger.Warnf("wsserver: connection %s encrypt reply: %v", c.id, err)
		return
	}
	c.sendUnencrypted(frame)
}

// dispatch routes one authenticated request to the bucket/channel layer and
// records metrics, implementing the nine actions of spec.md §4.5. A
// successful mutation (set, delete, clear) broadcasts to every other
// connection sharing this connection's channel; reads and failures never
// broadcast.
func (c *connection) dispatch(ctx context.Context, req protocol.Request) protocol.Response {
	start := time.Now()
	outcome := "ok"
	defer func() {
		c.server.metrics.requestsTotal.WithLabelValues(string(req.Action), outcome).Inc()
		c.server.metrics.requestDuration.WithLabelValues(string(req.Action)).Observe(time.Since(start).Seconds())
	}()

	c.mu.Lock()
	adapter := c.adapter
	channelID := c.channelID
	isAdmin := c.isAdmin
	c.mu.Unlock()

	result, err := c.execute(ctx, req, adapter, isAdmin)
	if err != nil {
		outcome = "error"
		return protocol.Response{ID: req.ID, Error: err.Error()}
	}

	if kind := broadcastKind(req.Action); kind != "" && shouldBroadcast(req.Action, result) {
		c.server.broker.Broadcast(channelID, c.id, protocol.NewEventFrame(
			kind, req.Collection, req.Key, req.Value,
		))
		c.server.metrics.broadcastsTotal.Inc()
	}

	return protocol.Response{ID: req.ID, Result: result}
}

func broadcastKind(action protocol.Action) string {
	switch action {
	case protocol.ActionSet:
		return "set"
	case protocol.ActionDelete:
		return "delete"
	case protocol.ActionClear:
		return "clear"
	default:
		return ""
	}
}

// shouldBroadcast reports whether a successfully-executed mutation should
// actually fan out an event. spec.md §4.5's action table calls for
// event:delete "only if success=true": deleting an absent key returns a nil
// error (it's not a failure to ask to delete something already gone) but
// DeleteResult.Success is false, and that must not fan out a phantom delete
// to every other connection on the channel.
func shouldBroadcast(action protocol.Action, result interface{}) bool {
	if action != protocol.ActionDelete {
		return true
	}
	del, ok := result.(protocol.DeleteResult)
	return ok && del.Success
}

func (c *connection) execute(ctx context.Context, req protocol.Request, adapter storage.Adapter, isAdmin bool) (interface{}, error) {
	switch req.Action {
	case protocol.ActionGet:
		value, found, err := adapter.Get(ctx, req.Collection, req.Key)
		if err != nil {
			return nil, err
		}
		return protocol.GetResult{Collection: req.Collection, Key: req.Key, Value: value, Found: found}, nil

	case protocol.ActionSet:
		if err := adapter.Set(ctx, req.Collection, req.Key, req.Value); err != nil {
			return nil, err
		}
		return protocol.SetResult{Collection: req.Collection, Key: req.Key}, nil

	case protocol.ActionDelete:
		removed, err := adapter.Delete(ctx, req.Collection, req.Key)
		if err != nil {
			return nil, err
		}
		return protocol.DeleteResult{Success: removed}, nil

	case protocol.ActionClear:
		count, err := adapter.Clear(ctx, req.Collection)
		if err != nil {
			return nil, err
		}
		return protocol.ClearResult{Count: count}, nil

	case protocol.ActionSize:
		size, err := adapter.Size(ctx, req.Collection)
		if err != nil {
			return nil, err
		}
		return protocol.SizeResult{Size: size}, nil

	case protocol.ActionKeys:
		keys, err := adapter.Keys(ctx, req.Collection)
		if err != nil {
			return nil, err
		}
		return protocol.KeysResult{Keys: keys}, nil

	case protocol.ActionAdminListUsers:
		if !isAdmin {
			return nil, fmt.Errorf("admin authority required")
		}
		return c.adminListUsers(), nil

	case protocol.ActionAdminDeleteUser:
		if !isAdmin {
			return nil, fmt.Errorf("admin authority required")
		}
		return c.adminDeleteUser(ctx, req.UserID)

	case protocol.ActionAdminUserInfo:
		if !isAdmin {
			return nil, fmt.Errorf("admin authority required")
		}
		return c.adminUserInfo(req.UserID)

	default:
		return nil, fmt.Errorf("unknown action %q", req.Action)
	}
}

func (c *connection) adminListUsers() protocol.AdminListUsersResult {
	tenants := c.server.buckets.ListTenants()
	users := make([]protocol.UserSummary, 0, len(tenants))
	for id, md := range tenants {
		users = append(users, protocol.UserSummary{UserID: id, Metadata: md})
	}
	return protocol.AdminListUsersResult{Users: users}
}

func (c *connection) adminDeleteUser(ctx context.Context, tenantID string) (protocol.AdminDeleteUserResult, error) {
	if tenantID == "" {
		return protocol.AdminDeleteUserResult{}, fmt.Errorf("admin_delete_user requires userId")
	}
	success, err := c.server.buckets.DeleteUserBucket(ctx, tenantID)
	if err != nil {
		return protocol.AdminDeleteUserResult{}, err
	}
	return protocol.AdminDeleteUserResult{Success: success}, nil
}

func (c *connection) adminUserInfo(tenantID string) (protocol.AdminUserInfoResult, error) {
	if tenantID == "" {
		return protocol.AdminUserInfoResult{}, fmt.Errorf("admin_user_info requires userId")
	}
	md, ok := c.server.buckets.GetUserMetadata(tenantID)
	if !ok {
		return protocol.AdminUserInfoResult{}, fmt.Errorf("%w: tenant %s", bucket.ErrUnknownTenant, tenantID)
	}
	return protocol.AdminUserInfoResult{UserID: tenantID, Metadata: md}, nil
}
