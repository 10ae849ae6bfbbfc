package fakeuserrepo

import (
	"errors"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/warrenmnocos/oauth2/users"
)

var _ users.UserRepo = (*FakeUserRepo)(nil)

type FakeUserRepo struct {
	users       map[string]*users.User
	usernameIds map[string]string // username to user id
	lock        sync.RWMutex
}

func NewFakeUserRepo() users.UserRepo {
	return &FakeUserRepo{
		users:       make(map[string]*users.User),
		usernameIds: make(map[string]string),
	}
}

func (ur *FakeUserRepo) Upsert(user *users.User) error {
	ur.lock.Lock()
	defer ur.lock.Unlock()

	if user.ID == "" {
		user.ID = uuid.New().String()
	}
	ur.users[user.ID] = user
	ur.usernameIds[user.Username] = user.ID
	return nil
}

func (ur *FakeUserRepo) Delete(username string) error {
	ur.lock.Lock()
	defer ur.lock.Unlock()

	userID, ok := ur.usernameIds[username]
	if !ok {
		return errors.New("not found")
	}
	delete(ur.usernameIds, username)

	if _, ok := ur.users[userID]; !ok {
		return nil
	}

	delete(ur.users, userID)
	return nil
}

func (ur *FakeUserRepo) GetByUsername(username string) (*users.User, error) {
	ur.lock.RLock()
	defer ur.lock.RUnlock()

	if _, ok := ur.usernameIds[username]; !ok {
		return nil, errors.New("not found")
	}
	return ur.users[ur.usernameIds[username]], nil
}

func (ur *FakeUserRepo) GetByID(id string) (*users.User, error) {
	ur.lock.RLock()
	defer ur.lock.RUnlock()

	if _, ok := ur.users[id]; !ok {
		return nil, errors.New("not found")
	}
	return ur.users[id], nil
}

func (ur *FakeUserRepo) List(offset, limit int) ([]*users.User, error) {
	ur.lock.RLock()
	defer ur.lock.RUnlock()

	userList := make([]*users.User, 0)
	for _, v := range ur.users {
		userList = append(userList, v)
	}

	sort.Slice(userList, func(i, j int) bool {
		return userList[i].ID < userList[j].ID
	})

	if offset > len(userList)-1 {
		return nil, nil
	}

	end := offset + limit
	if end > len(userList) {
		end = len(userList)
	}

	return userList[offset:end], nil
}

func (ur *FakeUserRepo) SetBlocked(username string, blocked bool) error {
	ur.lock.Lock()
	defer ur.lock.Unlock()

	userID, ok := ur.usernameIds[username]
	if !ok {
		return errors.New("not found")
	}
	ur.users[userID].Blocked = blocked
	return nil
}

func (ur *FakeUserRepo) SetVerified(username string, verified bool) error {
	ur.lock.Lock()
	defer ur.lock.Unlock()

	userID, ok := ur.usernameIds[username]
	if !ok {
		return errors.New("not found")
	}
	ur.users[userID].Verified = verified
	return nil
}
