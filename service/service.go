package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/golang/glog"

	"tessera.dev/sync/assets"
	"tessera.dev/sync/protocol"
	"tessera.dev/sync/state"
	"tessera.dev/sync/store"
)

// the entry tree is a singleton entity; rooms and assets are addressed by
// prefixed entity ids
const EntityEntries = "entries"

func RoomEntityId(roomId string) string {
	return "room/" + roomId
}

func AssetEntityId(entryId string) string {
	return "asset/" + entryId
}

func DefaultServiceSettings() *ServiceSettings {
	return &ServiceSettings{
		MutationBufferSettings: DefaultMutationBufferSettings(),
		RegistrySettings:       state.DefaultRegistrySettings(),
		RoomSettings:           state.DefaultRoomSettings(),
	}
}

type ServiceSettings struct {
	MutationBufferSettings *MutationBufferSettings
	RegistrySettings       *state.RegistrySettings
	RoomSettings           *state.RoomSettings
}

// Service is the authoritative mutation layer. Every request is validated
// and applied inside its entity's mutation sequence, answered to the
// requester only, and each successful mutation is broadcast through the
// broker as a mirror instruction carrying the normalized parameters.
type Service struct {
	ctx context.Context

	settings *ServiceSettings

	entryTree *state.EntryTree
	snapshots *store.Store

	assetRegistry *state.Registry[assets.Asset]
	roomRegistry  *state.Registry[*roomHandle]

	broker         *Broker
	mutationBuffer *MutationBuffer
}

func NewServiceWithDefaults(ctx context.Context, snapshots *store.Store, kinds *assets.KindSet) *Service {
	return NewService(ctx, snapshots, kinds, DefaultServiceSettings())
}

func NewService(ctx context.Context, snapshots *store.Store, kinds *assets.KindSet, settings *ServiceSettings) *Service {
	self := &Service{
		ctx:            ctx,
		settings:       settings,
		entryTree:      state.NewEntryTree(),
		snapshots:      snapshots,
		broker:         NewBroker(),
		mutationBuffer: NewMutationBuffer(ctx, settings.MutationBufferSettings),
	}
	self.assetRegistry = state.NewRegistry[assets.Asset](
		ctx,
		assets.NewLoader(self.entryTree, snapshots, kinds),
		settings.RegistrySettings,
	)
	self.roomRegistry = state.NewRegistry[*roomHandle](
		ctx,
		&roomLoader{service: self},
		settings.RegistrySettings,
	)

	self.entryTree.AddNodeAddedCallback(self.entryAdded)
	self.entryTree.AddNodeMovedCallback(self.entryMoved)
	self.entryTree.AddNodeRemovedCallback(self.entryRemoved)
	self.entryTree.AddNodePropertyCallback(self.entryProperty)
	self.entryTree.AddDiagnosticsChangedCallback(self.diagnosticsChanged)
	self.entryTree.AddDependenciesChangedCallback(self.dependenciesChanged)
	self.entryTree.AddDependencyInvalidatedCallback(self.dependencyInvalidated)

	return self
}

func (self *Service) EntryTree() *state.EntryTree {
	return self.entryTree
}

func (self *Service) AssetRegistry() *state.Registry[assets.Asset] {
	return self.assetRegistry
}

func (self *Service) Broker() *Broker {
	return self.broker
}

// HandleRequest decodes and routes one request frame from `connId`.
// `respond` receives exactly one result or error frame, possibly after an
// asynchronous load.
func (self *Service) HandleRequest(connId string, subscriber Subscriber, frame *protocol.Frame, respond func(*protocol.Frame)) {
	message, err := protocol.FromFrame(frame)
	if err != nil {
		respond(errorFrame("", err))
		return
	}

	switch v := message.(type) {
	case *protocol.EntryAdd:
		self.mutationBuffer.Dispatch(EntityEntries, func() {
			entryId, index, err := self.entryTree.Add(v.EntryId, v.Values, v.ParentId, v.Index)
			if err != nil {
				respond(errorFrame(v.RequestId, err))
				return
			}
			respond(resultFrame(&protocol.MutationResult{
				RequestId: v.RequestId,
				EntityId:  EntityEntries,
				ItemId:    entryId,
				Index:     index,
			}))
		})
	case *protocol.EntryMove:
		self.mutationBuffer.Dispatch(EntityEntries, func() {
			index, err := self.entryTree.Move(v.EntryId, v.ParentId, v.Index)
			if err != nil {
				respond(errorFrame(v.RequestId, err))
				return
			}
			respond(resultFrame(&protocol.MutationResult{
				RequestId: v.RequestId,
				EntityId:  EntityEntries,
				ItemId:    v.EntryId,
				Index:     index,
			}))
		})
	case *protocol.EntryRemove:
		self.mutationBuffer.Dispatch(EntityEntries, func() {
			if err := self.entryTree.Remove(v.EntryId); err != nil {
				respond(errorFrame(v.RequestId, err))
				return
			}
			respond(resultFrame(&protocol.MutationResult{
				RequestId: v.RequestId,
				EntityId:  EntityEntries,
				ItemId:    v.EntryId,
			}))
		})
	case *protocol.EntrySetProperty:
		// property writes serialize per entry, concurrent across entries
		self.mutationBuffer.Dispatch(EntityEntries+"/"+v.EntryId, func() {
			value, err := self.entryTree.SetProperty(v.EntryId, v.Path, v.Value)
			if err != nil {
				respond(errorFrame(v.RequestId, err))
				return
			}
			respond(resultFrame(&protocol.MutationResult{
				RequestId: v.RequestId,
				EntityId:  EntityEntries,
				ItemId:    v.EntryId,
				Value:     value,
			}))
		})
	case *protocol.Subscribe:
		self.subscribe(connId, subscriber, v, respond)
	case *protocol.Unsubscribe:
		self.broker.Unsubscribe(connId, v.EntityId)
		self.releaseEntity(connId, v.EntityId)
		respond(resultFrame(&protocol.MutationResult{
			RequestId: v.RequestId,
			EntityId:  v.EntityId,
		}))
	case *protocol.RoomJoin:
		self.roomJoin(connId, subscriber, v, respond)
	case *protocol.RoomLeave:
		self.roomLeave(connId, v, respond)
	case *protocol.RoomSend:
		self.roomSend(connId, v, respond)
	default:
		respond(errorFrame("", fmt.Errorf("unexpected request type %T", v)))
	}
}

// RemoveConnection releases everything `connId` held: subscriptions, room
// membership, and registry holds.
func (self *Service) RemoveConnection(connId string) {
	entityIds := self.broker.RemoveConnection(connId)
	for _, entityId := range entityIds {
		if roomId, ok := strings.CutPrefix(entityId, "room/"); ok {
			if handle, ok := self.roomRegistry.Loaded(roomId); ok {
				self.mutationBuffer.Dispatch(entityId, func() {
					// ignore when the client never joined
					handle.room.Leave(connId)
				})
			}
		}
	}
	self.assetRegistry.ReleaseOwner(connId)
	self.roomRegistry.ReleaseOwner(connId)
	glog.V(1).Infof("[svc]connection removed %s\n", connId)
}

func (self *Service) subscribe(connId string, subscriber Subscriber, v *protocol.Subscribe, respond func(*protocol.Frame)) {
	result := &protocol.MutationResult{
		RequestId: v.RequestId,
		EntityId:  v.EntityId,
	}
	if entryId, ok := strings.CutPrefix(v.EntityId, "asset/"); ok {
		// subscribing to an asset expresses interest: load it lazily and
		// hold it for the connection's lifetime
		self.assetRegistry.Acquire(entryId, connId, func(asset assets.Asset, err error) {
			if err != nil {
				respond(errorFrame(v.RequestId, err))
				return
			}
			self.broker.Subscribe(connId, v.EntityId, subscriber)
			respond(resultFrame(result))
		})
		return
	}
	if roomId, ok := strings.CutPrefix(v.EntityId, "room/"); ok {
		// spectate without joining
		self.roomRegistry.Acquire(roomId, connId, func(handle *roomHandle, err error) {
			if err != nil {
				respond(errorFrame(v.RequestId, err))
				return
			}
			self.broker.Subscribe(connId, v.EntityId, subscriber)
			respond(resultFrame(result))
		})
		return
	}
	self.broker.Subscribe(connId, v.EntityId, subscriber)
	respond(resultFrame(result))
}

func (self *Service) releaseEntity(connId string, entityId string) {
	if entryId, ok := strings.CutPrefix(entityId, "asset/"); ok {
		// ignore ErrNotAcquired: unsubscribe of a never-acquired entity
		self.assetRegistry.Release(entryId, connId)
	} else if roomId, ok := strings.CutPrefix(entityId, "room/"); ok {
		self.roomRegistry.Release(roomId, connId)
	}
}

func (self *Service) roomJoin(connId string, subscriber Subscriber, v *protocol.RoomJoin, respond func(*protocol.Frame)) {
	self.roomRegistry.Acquire(v.RoomId, connId, func(handle *roomHandle, err error) {
		if err != nil {
			respond(errorFrame(v.RequestId, err))
			return
		}
		entityId := RoomEntityId(v.RoomId)
		self.mutationBuffer.Dispatch(entityId, func() {
			// subscribe first so the joiner mirrors its own join
			self.broker.Subscribe(connId, entityId, subscriber)
			index, err := handle.room.Join(connId, v.Name)
			if err != nil {
				self.broker.Unsubscribe(connId, entityId)
				self.roomRegistry.Release(v.RoomId, connId)
				respond(errorFrame(v.RequestId, err))
				return
			}
			respond(resultFrame(&protocol.MutationResult{
				RequestId: v.RequestId,
				EntityId:  entityId,
				ItemId:    connId,
				Index:     index,
			}))
		})
	})
}

func (self *Service) roomLeave(connId string, v *protocol.RoomLeave, respond func(*protocol.Frame)) {
	handle, ok := self.roomRegistry.Loaded(v.RoomId)
	if !ok {
		respond(errorFrame(v.RequestId, state.NewMutationError(state.ErrNotFound, "", v.RoomId)))
		return
	}
	entityId := RoomEntityId(v.RoomId)
	self.mutationBuffer.Dispatch(entityId, func() {
		if err := handle.room.Leave(connId); err != nil {
			respond(errorFrame(v.RequestId, err))
			return
		}
		self.broker.Unsubscribe(connId, entityId)
		self.roomRegistry.Release(v.RoomId, connId)
		respond(resultFrame(&protocol.MutationResult{
			RequestId: v.RequestId,
			EntityId:  entityId,
			ItemId:    connId,
		}))
	})
}

func (self *Service) roomSend(connId string, v *protocol.RoomSend, respond func(*protocol.Frame)) {
	handle, ok := self.roomRegistry.Loaded(v.RoomId)
	if !ok {
		respond(errorFrame(v.RequestId, state.NewMutationError(state.ErrNotFound, "", v.RoomId)))
		return
	}
	entityId := RoomEntityId(v.RoomId)
	self.mutationBuffer.Dispatch(entityId, func() {
		message, err := handle.room.AppendMessage(connId, v.Text)
		if err != nil {
			respond(errorFrame(v.RequestId, err))
			return
		}
		respond(resultFrame(&protocol.MutationResult{
			RequestId: v.RequestId,
			EntityId:  entityId,
			ItemId:    message.MessageId,
		}))
	})
}

// entry tree event fan-out

// NodeAddedFunction
func (self *Service) entryAdded(entryId string, parentId string, index int, values map[string]any) {
	self.broker.Publish(EntityEntries, &protocol.MirrorAdd{
		EntityId: EntityEntries,
		ItemId:   entryId,
		ParentId: parentId,
		Index:    index,
		Values:   values,
	})
}

// NodeMovedFunction
func (self *Service) entryMoved(entryId string, parentId string, index int) {
	self.broker.Publish(EntityEntries, &protocol.MirrorMove{
		EntityId: EntityEntries,
		ItemId:   entryId,
		ParentId: parentId,
		Index:    index,
	})
}

// NodeRemovedFunction
func (self *Service) entryRemoved(entryId string) {
	self.broker.Publish(EntityEntries, &protocol.MirrorRemove{
		EntityId: EntityEntries,
		ItemId:   entryId,
	})
	// the backing object no longer has an entry. evict and forget
	self.assetRegistry.ReleaseAll(entryId)
	if self.snapshots != nil {
		if err := self.snapshots.Delete(self.ctx, assets.SnapshotKind, entryId); err != nil {
			glog.Warningf("[svc]snapshot delete failed for %s: %s\n", entryId, err)
		}
	}
}

// NodePropertyFunction
func (self *Service) entryProperty(entryId string, path string, value any) {
	self.broker.Publish(EntityEntries, &protocol.MirrorSetProperty{
		EntityId: EntityEntries,
		ItemId:   entryId,
		Path:     path,
		Value:    value,
	})
}

// DiagnosticsChangedFunction
func (self *Service) diagnosticsChanged(entryId string, diagnostics []state.Diagnostic) {
	out := make([]protocol.Diagnostic, len(diagnostics))
	for i, d := range diagnostics {
		out[i] = protocol.Diagnostic{
			Type:    d.Type,
			Message: d.Message,
		}
	}
	self.broker.Publish(EntityEntries, &protocol.MirrorDiagnostics{
		EntityId:    EntityEntries,
		EntryId:     entryId,
		Diagnostics: out,
	})
}

// DependenciesChangedFunction
func (self *Service) dependenciesChanged(assetId string, entryIds []string) {
	self.broker.Publish(EntityEntries, &protocol.MirrorDependencies{
		EntityId: EntityEntries,
		AssetId:  assetId,
		EntryIds: entryIds,
	})
}

// DependencyInvalidatedFunction
func (self *Service) dependencyInvalidated(assetId string, removedEntryId string) {
	asset, ok := self.assetRegistry.Loaded(assetId)
	if !ok {
		return
	}
	self.mutationBuffer.Dispatch(AssetEntityId(assetId), func() {
		if err := asset.Restore(self.ctx); err != nil {
			glog.Warningf("[svc]re-restore failed for %s after %s removed: %s\n", assetId, removedEntryId, err)
		}
	})
}

func resultFrame(result *protocol.MutationResult) *protocol.Frame {
	return protocol.RequireToFrame(result)
}

func errorFrame(requestId string, err error) *protocol.Frame {
	errorResult := &protocol.MutationErrorResult{
		RequestId: requestId,
		Kind:      errorKind(err),
	}
	var mutationErr *state.MutationError
	if errors.As(err, &mutationErr) {
		errorResult.Path = mutationErr.Path
		errorResult.Id = mutationErr.Id
	}
	return protocol.RequireToFrame(errorResult)
}

func errorKind(err error) string {
	switch {
	case errors.Is(err, state.ErrValidation):
		return "validation"
	case errors.Is(err, state.ErrUnknownField):
		return "unknown_field"
	case errors.Is(err, state.ErrImmutableField):
		return "immutable_field"
	case errors.Is(err, state.ErrNotFound):
		return "not_found"
	case errors.Is(err, state.ErrDuplicateId):
		return "duplicate_id"
	case errors.Is(err, state.ErrDuplicateName):
		return "duplicate_name"
	case errors.Is(err, state.ErrCyclicMove):
		return "cyclic_move"
	case errors.Is(err, state.ErrNotAcquired):
		return "not_acquired"
	case errors.Is(err, state.ErrRoomFull):
		return "room_full"
	case errors.Is(err, store.ErrLoad):
		return "load_error"
	case errors.Is(err, store.ErrSave):
		return "save_error"
	default:
		return "internal"
	}
}
