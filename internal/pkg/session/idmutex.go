package session

import "sync"

// IdMutex раздаёт по мьютексу на каждую живую сессию. Мьютексы со
// счётчиком ссылок: карта не растёт вместе с числом когда-либо
// существовавших id
type IdMutex struct {
	mu    sync.RWMutex
	locks map[string]*sync.Mutex
	refs  map[string]int
}

func NewIdMutex() *IdMutex {
	return &IdMutex{
		locks: make(map[string]*sync.Mutex),
		refs:  make(map[string]int),
	}
}

// GetLock отдаёт мьютекс сессии, при первом обращении создаёт его.
// Каждый GetLock обязан парно закрываться ReleaseLock
func (s *IdMutex) GetLock(id string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.locks[id]; !exists {
		s.locks[id] = &sync.Mutex{}
	}
	s.refs[id]++
	return s.locks[id]
}

// ReleaseLock отпускает ссылку; когда держателей не осталось,
// мьютекс выбрасывается из карты
func (s *IdMutex) ReleaseLock(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count, exists := s.refs[id]
	if !exists {
		return
	}
	count--
	if count == 0 {
		delete(s.locks, id)
		delete(s.refs, id)
		return
	}
	s.refs[id] = count
}
