package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/arcfile/logos/internal/backend"
	"github.com/arcfile/logos/internal/clientconfig"
	"github.com/arcfile/logos/internal/clientsync"
	"github.com/arcfile/logos/internal/protocol"
)

// createPrefix tags a resolveWorkspace result that names a new workspace to
// create rather than an existing one to join.
const createPrefix = "__create__:"

// runClient implements the startup sequence of spec.md §4.7: parse the
// location, connect, join or create a workspace (prompting the lobby if
// none is known), reconcile against the Welcome snapshot, and then either
// exit (one-shot) or keep running (--watch).
func runClient(ctx context.Context, location string) error {
	cc := cliContextFrom(ctx)
	if cc == nil {
		return fmt.Errorf("client context not initialized")
	}

	if location == "" {
		location = cc.Config.Location
	}
	if location == "" {
		return fmt.Errorf("a location argument is required on first run (e.g. folder:/path/to/sync)")
	}

	be, err := backend.ParseLocation(ctx, location)
	if err != nil {
		return fmt.Errorf("parsing location %q: %w", location, err)
	}

	ctx = shutdownContext(ctx, cc.Logger)

	channel, err := clientsync.Dial(ctx, cc.Server, cc.Secret)
	if err != nil {
		return fmt.Errorf("connecting to %s: %w", cc.Server, err)
	}
	defer channel.Close()

	target, err := resolveWorkspace(ctx, channel, cc)
	if err != nil {
		return err
	}

	welcome, err := joinWorkspace(ctx, channel, target, cc.Config.ClientName)
	if err != nil {
		return err
	}

	cc.Config.Location = location
	cc.Config.StorageID = welcome.StorageID
	if err := clientconfig.Save(flagConfigPath, cc.Config); err != nil {
		cc.Logger.Warn("failed to persist client config", "error", err.Error())
	}

	engine := clientsync.NewEngine(be, channel, cc.Logger)

	statusf("reconciling against %d server-known files...\n", len(welcome.Files))
	if err := engine.Reconcile(ctx, welcome.StorageID, welcome.Files); err != nil {
		return fmt.Errorf("reconciling: %w", err)
	}

	if !flagWatch {
		statusf("sync complete.\n")
		return nil
	}

	return runSteadyState(ctx, engine, be, channel)
}

// resolveWorkspace returns a storage ID to join, or a createPrefix-tagged
// name to create, per spec.md §4.7 step 2: reuse the persisted workspace
// if there is one, otherwise render the lobby.
func resolveWorkspace(ctx context.Context, channel *clientsync.Channel, cc *CLIContext) (string, error) {
	if cc.Config.StorageID != "" {
		return cc.Config.StorageID, nil
	}

	if err := channel.SendMessage(ctx, protocol.NewRequestStorageList()); err != nil {
		return "", fmt.Errorf("requesting storage list: %w", err)
	}

	msg, _, err := channel.Receive(ctx)
	if err != nil {
		return "", fmt.Errorf("receiving storage list: %w", err)
	}
	if msg == nil || msg.Type != protocol.TypeStorageList {
		return "", fmt.Errorf("unexpected reply to RequestStorageList: %v", msg)
	}

	choice, err := clientsync.RenderLobby(os.Stdout, os.Stdin, msg.Storages)
	if err != nil {
		return "", err
	}

	if choice.CreateName != "" {
		return createPrefix + choice.CreateName, nil
	}

	return choice.JoinID, nil
}

// joinWorkspace sends JoinStorage for an existing target, or CreateStorage
// followed by a JoinStorage of the newly created entry when target names a
// workspace to create — the server never auto-joins on create, so the
// client must pick its own new entry off the refreshed StorageList and join
// it explicitly (spec.md §4.3).
func joinWorkspace(ctx context.Context, channel *clientsync.Channel, target, clientName string) (*protocol.Message, error) {
	storageID := target

	if name, ok := strings.CutPrefix(target, createPrefix); ok {
		id, err := createWorkspace(ctx, channel, name)
		if err != nil {
			return nil, err
		}
		storageID = id
	}

	if err := channel.SendMessage(ctx, protocol.NewJoinStorage(storageID, clientName)); err != nil {
		return nil, fmt.Errorf("joining workspace: %w", err)
	}

	reply, _, err := channel.Receive(ctx)
	if err != nil {
		return nil, fmt.Errorf("receiving join reply: %w", err)
	}
	if reply == nil {
		return nil, fmt.Errorf("no reply to join request")
	}
	if reply.Type == protocol.TypeError {
		return nil, fmt.Errorf("server rejected join: %s", reply.ErrMessage)
	}
	if reply.Type != protocol.TypeWelcome {
		return nil, fmt.Errorf("unexpected reply to join: %s", reply.Type)
	}

	return reply, nil
}

// createWorkspace sends CreateStorage and picks the new entry's ID out of
// the StorageList the server replies with.
func createWorkspace(ctx context.Context, channel *clientsync.Channel, name string) (string, error) {
	if err := channel.SendMessage(ctx, protocol.NewCreateStorage(name)); err != nil {
		return "", fmt.Errorf("creating workspace: %w", err)
	}

	reply, _, err := channel.Receive(ctx)
	if err != nil {
		return "", fmt.Errorf("receiving create reply: %w", err)
	}
	if reply == nil {
		return "", fmt.Errorf("no reply to create request")
	}
	if reply.Type == protocol.TypeError {
		return "", fmt.Errorf("server rejected create: %s", reply.ErrMessage)
	}
	if reply.Type != protocol.TypeStorageList {
		return "", fmt.Errorf("unexpected reply to create: %s", reply.Type)
	}

	for _, s := range reply.Storages {
		if s.Name == name {
			return s.ID, nil
		}
	}

	return "", fmt.Errorf("created storage %q not found in refreshed storage list", name)
}

// runSteadyState drives spec.md §4.7's steady-state loop: a watcher (local
// folder backends) or poller (remote backends) pushing local changes out,
// concurrent with a receive loop applying server-broadcast updates, until
// ctx is canceled.
func runSteadyState(ctx context.Context, engine *clientsync.Engine, be backend.Backend, channel *clientsync.Channel) error {
	cc := cliContextFrom(ctx)

	cleanup, err := writePIDFile(flagConfigPath + ".pid")
	if err != nil {
		return err
	}
	defer cleanup()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return receiveLoop(gctx, engine, channel) })

	if local, ok := be.(interface{ Root() string }); ok {
		watcher := clientsync.NewWatcher(local.Root(), cc.Logger)
		changes := make(chan clientsync.Change, 256)

		// The safety re-scan feeds every listed file back through the same
		// change queue, so writes whose events were dropped still upload.
		rescan := func(ctx context.Context) error {
			files, err := be.ListFiles(ctx)
			if err != nil {
				return err
			}
			for _, f := range files {
				select {
				case changes <- clientsync.Change{Path: f.Path, Kind: clientsync.ChangeWrite}:
				case <-ctx.Done():
					return nil
				}
			}
			return nil
		}

		g.Go(func() error {
			return watcher.Run(gctx, changes, rescan)
		})
		g.Go(func() error {
			for {
				select {
				case <-gctx.Done():
					return nil
				case change, ok := <-changes:
					if !ok {
						return nil
					}
					if err := engine.OnLocalChange(gctx, change); err != nil {
						return err
					}
				}
			}
		})
	} else {
		g.Go(func() error { return engine.Poll(gctx) })
	}

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		return err
	}

	return nil
}

// receiveLoop applies every inbound server frame to the engine. Binary
// frames are only ever consumed through HandleInbound's nextBinary
// callback, triggered by a preceding StartTransfer header (or, defensively,
// a non-delete FileUpdate header — see handleFileUpdateHeader).
func receiveLoop(ctx context.Context, engine *clientsync.Engine, channel *clientsync.Channel) error {
	for {
		msg, payload, err := channel.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("receive loop: %w", err)
		}
		if payload != nil {
			// A binary frame arriving outside a pending transfer has no
			// header to attach to; drop it rather than misinterpret it.
			continue
		}

		nextBinary := func(ctx context.Context) ([]byte, error) {
			_, data, err := channel.Receive(ctx)
			if err != nil {
				return nil, err
			}
			return data, nil
		}

		if err := engine.HandleInbound(ctx, *msg, nextBinary); err != nil {
			return fmt.Errorf("handling %s: %w", msg.Type, err)
		}
	}
}
