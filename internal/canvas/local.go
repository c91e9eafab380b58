package canvas

import (
	"sync"

	"github.com/google/uuid"
)

// Layout constants for auto-positioned messages.
const (
	MarginX       = 24.0
	MessageHeight = 96.0
	Padding       = 12.0
)

const (
	defaultViewportW = 1024.0
	defaultViewportH = 768.0
)

// messageEntry ties a pushed message to its scene element.
type messageEntry struct {
	msg       Message
	elementID string
}

// LocalBackend owns a scene guarded by a mutex. Every mutation bumps the
// generation counter, which doubles as the HTML cache key.
type LocalBackend struct {
	mu         sync.Mutex
	scene      Scene
	messages   []messageEntry
	generation uint64

	cachedHTML string
	cachedGen  uint64
}

func NewLocalBackend() *LocalBackend {
	return &LocalBackend{
		scene: Scene{ViewportW: defaultViewportW, ViewportH: defaultViewportH},
	}
}

// PushMessage appends a message and lays it out top-to-bottom: each entry
// sits below the previous one, z equal to its insertion index.
func (b *LocalBackend) PushMessage(msg Message) {
	b.mu.Lock()
	defer b.mu.Unlock()

	i := len(b.messages)
	el := Element{
		ID:   uuid.NewString(),
		Kind: KindText,
		Text: msg.Text,
		Transform: Transform{
			X: MarginX,
			Y: Padding + float64(i)*(MessageHeight+Padding),
			W: b.scene.ViewportW - 2*MarginX,
			H: MessageHeight,
			Z: i,
		},
	}
	b.scene.Elements = append(b.scene.Elements, el)
	b.messages = append(b.messages, messageEntry{msg: msg, elementID: el.ID})
	b.generation++
}

// AddElement inserts a tool-placed element as-is.
func (b *LocalBackend) AddElement(el Element) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.addElementLocked(el)
	b.generation++
}

func (b *LocalBackend) addElementLocked(el Element) {
	for i := range b.scene.Elements {
		if b.scene.Elements[i].ID == el.ID {
			b.scene.Elements[i] = el
			return
		}
	}
	b.scene.Elements = append(b.scene.Elements, el)
}

// UpdateElement replaces the element with a matching id; unknown ids insert.
func (b *LocalBackend) UpdateElement(el Element) {
	b.AddElement(el)
}

// RemoveElement deletes the element with the given id.
func (b *LocalBackend) RemoveElement(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := range b.scene.Elements {
		if b.scene.Elements[i].ID == id {
			b.scene.Elements = append(b.scene.Elements[:i], b.scene.Elements[i+1:]...)
			break
		}
	}
	for i := range b.messages {
		if b.messages[i].elementID == id {
			b.messages = append(b.messages[:i], b.messages[i+1:]...)
			break
		}
	}
	b.generation++
}

// Clear removes everything.
func (b *LocalBackend) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.scene.Elements = nil
	b.messages = nil
	b.generation++
}

func (b *LocalBackend) MessageCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.messages)
}

func (b *LocalBackend) ElementCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.scene.Elements)
}

// MessageViews returns a copy of the message list.
func (b *LocalBackend) MessageViews() []Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Message, len(b.messages))
	for i, e := range b.messages {
		out[i] = e.msg
	}
	return out
}

// Generation returns the current mutation counter.
func (b *LocalBackend) Generation() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.generation
}

// SceneSnapshot returns a deep-enough copy of the scene for serialization.
func (b *LocalBackend) SceneSnapshot() Scene {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := b.scene
	s.Elements = append([]Element(nil), b.scene.Elements...)
	return s
}

// ReplaceScene overwrites the scene wholesale (authoritative server update).
func (b *LocalBackend) ReplaceScene(s Scene) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if s.ViewportW == 0 {
		s.ViewportW = b.scene.ViewportW
	}
	if s.ViewportH == 0 {
		s.ViewportH = b.scene.ViewportH
	}
	b.scene = s
	b.generation++
}

// ResizeViewport changes the viewport and relays out messages to the new
// width.
func (b *LocalBackend) ResizeViewport(w, h float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.scene.ViewportW = w
	b.scene.ViewportH = h
	for _, entry := range b.messages {
		for i := range b.scene.Elements {
			if b.scene.Elements[i].ID == entry.elementID {
				b.scene.Elements[i].Transform.W = w - 2*MarginX
			}
		}
	}
	b.generation++
}

// ConnectionStatus for a purely local backend is always Local.
func (b *LocalBackend) ConnectionStatus() ConnectionStatus {
	return ConnectionStatus{State: StateLocal}
}

// ToHTML renders the scene from scratch.
func (b *LocalBackend) ToHTML() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return renderScene(&b.scene, b.generation)
}

// ToHTMLCached rebuilds only when the generation moved since the last call.
func (b *LocalBackend) ToHTMLCached() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.cachedHTML == "" || b.cachedGen != b.generation {
		b.cachedHTML = renderScene(&b.scene, b.generation)
		b.cachedGen = b.generation
	}
	return b.cachedHTML
}

// ToolElementsHTML renders only the elements that did not come from pushed
// messages (charts, images, and anything a tool added directly).
func (b *LocalBackend) ToolElementsHTML() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	fromMessages := make(map[string]bool, len(b.messages))
	for _, e := range b.messages {
		fromMessages[e.elementID] = true
	}
	var tool []Element
	for _, el := range b.scene.Elements {
		if !fromMessages[el.ID] {
			tool = append(tool, el)
		}
	}
	return renderElements(tool)
}
