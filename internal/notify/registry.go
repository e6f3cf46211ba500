package notify

import (
	"errors"
	"os"
	"sync"
)

type callbackEntry struct {
	id       uint64
	callback func(Event)
}

type watchHandle struct {
	notifier *Notifier
	path     string
	id       uint64
	once     sync.Once
}

func (handle *watchHandle) Close() error {
	if handle == nil || handle.notifier == nil {
		return nil
	}
	var err error
	handle.once.Do(func() {
		err = handle.notifier.removeCallback(handle.path, handle.id)
	})
	return err
}

// Watch registers a callback for filesystem changes on a path. The path must
// exist when the watch is registered.
func (notifier *Notifier) Watch(path string, callback func(Event)) (Handle, error) {
	if notifier == nil {
		return nil, errors.New("notifier is nil")
	}
	if path == "" {
		return nil, errors.New("path is required")
	}
	if callback == nil {
		return nil, errors.New("callback is required")
	}

	if _, err := os.Stat(path); err != nil {
		return nil, err
	}

	notifier.mutex.Lock()
	if notifier.closed {
		notifier.mutex.Unlock()
		return nil, errors.New("notifier is closed")
	}

	needsAdd := notifier.callbacks[path] == nil
	if needsAdd && notifier.activeWatches >= notifier.maxWatches {
		notifier.mutex.Unlock()
		return nil, ErrMaxWatchesExceeded
	}
	notifier.nextID++
	entry := callbackEntry{callback: callback, id: notifier.nextID}
	notifier.callbacks[path] = append(notifier.callbacks[path], entry)
	if needsAdd {
		notifier.activeWatches++
	}
	activeCount := notifier.activeWatches
	notifier.mutex.Unlock()

	if needsAdd {
		if err := notifier.source.Add(path); err != nil {
			notifier.dropCallback(path, entry.id)
			notifier.logWarn("watch add failed", map[string]string{
				"path":  path,
				"error": err.Error(),
			})
			return nil, err
		}
		notifier.registry.SetNotifierWatchCount(activeCount)
		notifier.logDebug("watch added", path, activeCount)
	}

	return &watchHandle{notifier: notifier, path: path, id: entry.id}, nil
}

func (notifier *Notifier) removeCallback(path string, id uint64) error {
	if notifier == nil {
		return nil
	}

	shouldRemove := false
	activeCount := 0
	notifier.mutex.Lock()
	callbacks := notifier.callbacks[path]
	if len(callbacks) > 0 {
		for index, candidate := range callbacks {
			if candidate.id == id {
				callbacks = append(callbacks[:index], callbacks[index+1:]...)
				break
			}
		}
		if len(callbacks) == 0 {
			delete(notifier.callbacks, path)
			shouldRemove = true
			if notifier.activeWatches > 0 {
				notifier.activeWatches--
			}
			activeCount = notifier.activeWatches
		} else {
			notifier.callbacks[path] = callbacks
		}
	}
	notifier.mutex.Unlock()

	if shouldRemove && notifier.source != nil {
		notifier.registry.SetNotifierWatchCount(activeCount)
		if err := notifier.source.Remove(path); err != nil {
			notifier.logWarn("watch remove failed", map[string]string{
				"path":  path,
				"error": err.Error(),
			})
			return err
		}
		notifier.logDebug("watch removed", path, activeCount)
	}
	return nil
}

func (notifier *Notifier) dropCallback(path string, id uint64) {
	if notifier == nil {
		return
	}

	notifier.mutex.Lock()
	callbacks := notifier.callbacks[path]
	if len(callbacks) > 0 {
		for index, candidate := range callbacks {
			if candidate.id == id {
				callbacks = append(callbacks[:index], callbacks[index+1:]...)
				break
			}
		}
		if len(callbacks) == 0 {
			delete(notifier.callbacks, path)
			if notifier.activeWatches > 0 {
				notifier.activeWatches--
			}
		} else {
			notifier.callbacks[path] = callbacks
		}
	}
	notifier.mutex.Unlock()
}
