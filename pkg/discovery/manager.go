// SPDX-FileCopyrightText: 2026 The ctxrelay Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package discovery

import (
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/hashicorp/go-multierror"
	"github.com/schollz/peerdiscovery"
)

// multicastSet describes one IP version's multicast configuration.
type multicastSet struct {
	active           bool
	multicastAddress string
	ipVersion        peerdiscovery.IPVersion
}

func multicastSets(ipv4, ipv6 bool) []multicastSet {
	return []multicastSet{
		{ipv4, address4, peerdiscovery.IPv4},
		{ipv6, address6, peerdiscovery.IPv6},
	}
}

// peerAddress formats a discovered address for URLs.
func peerAddress(discovered peerdiscovery.Discovered, ipVersion peerdiscovery.IPVersion) string {
	if ipVersion == peerdiscovery.IPv6 {
		return fmt.Sprintf("[%s]", discovered.Address)
	}
	return discovered.Address
}

// parseDiscovered extracts all Announcements of a received package, setting their Address.
func parseDiscovered(discovered peerdiscovery.Discovered, ipVersion peerdiscovery.IPVersion) ([]Announcement, error) {
	announcements, err := UnmarshalAnnouncements(discovered.Payload)
	if err != nil {
		return nil, err
	}

	addr := peerAddress(discovered, ipVersion)
	for i := range announcements {
		announcements[i].Address = addr
	}
	return announcements, nil
}

// Manager periodically publishes a relay's Announcement and reports other relays' Announcements.
type Manager struct {
	Announcement Announcement
	NotifyFunc   func(Announcement)

	stopChan4 chan struct{}
	stopChan6 chan struct{}
}

// NewManager for an Announcement will be created and started. The optional notifyFunc is called for each
// received Announcement of another relay.
func NewManager(
	announcement Announcement, notifyFunc func(Announcement),
	announcementInterval time.Duration, ipv4, ipv6 bool) (*Manager, error) {

	var manager = &Manager{
		Announcement: announcement,
		NotifyFunc:   notifyFunc,
	}
	if ipv4 {
		manager.stopChan4 = make(chan struct{})
	}
	if ipv6 {
		manager.stopChan6 = make(chan struct{})
	}

	log.WithFields(log.Fields{
		"interval":     announcementInterval,
		"IPv4":         ipv4,
		"IPv6":         ipv6,
		"announcement": announcement,
	}).Info("Starting discovery Manager")

	msg, err := MarshalAnnouncements([]Announcement{announcement})
	if err != nil {
		return nil, err
	}

	stopChans := []chan struct{}{manager.stopChan4, manager.stopChan6}
	for i, set := range multicastSets(ipv4, ipv6) {
		if !set.active {
			continue
		}

		ipVersion := set.ipVersion
		settings := peerdiscovery.Settings{
			Limit:            -1,
			Port:             fmt.Sprintf("%d", port),
			MulticastAddress: set.multicastAddress,
			Payload:          msg,
			Delay:            announcementInterval,
			TimeLimit:        -1,
			StopChan:         stopChans[i],
			AllowSelf:        true,
			IPVersion:        ipVersion,
			Notify: func(discovered peerdiscovery.Discovered) {
				manager.notify(discovered, ipVersion)
			},
		}

		discoverErrChan := make(chan error, 1)
		go func() {
			_, discoverErr := peerdiscovery.Discover(settings)
			discoverErrChan <- discoverErr
		}()

		// Discover only returns early on a setup failure.
		select {
		case discoverErr := <-discoverErrChan:
			if discoverErr != nil {
				manager.Close()
				return nil, discoverErr
			}

		case <-time.After(time.Second):
		}
	}

	return manager, nil
}

func (manager *Manager) notify(discovered peerdiscovery.Discovered, ipVersion peerdiscovery.IPVersion) {
	announcements, err := parseDiscovered(discovered, ipVersion)
	if err != nil {
		log.WithError(err).WithField("peer", discovered.Address).Warn("Discovery failed to parse incoming package")
		return
	}

	for _, announcement := range announcements {
		if announcement.Name == manager.Announcement.Name {
			continue
		}

		log.WithField("announcement", announcement).Debug("Discovered relay")
		if manager.NotifyFunc != nil {
			manager.NotifyFunc(announcement)
		}
	}
}

// Close this Manager.
func (manager *Manager) Close() {
	for i, c := range []*chan struct{}{&manager.stopChan4, &manager.stopChan6} {
		if *c == nil {
			continue
		}

		select {
		case *c <- struct{}{}:
		case <-time.After(time.Second):
			log.WithField("set", i).Debug("Discovery did not acknowledge stop request")
		}
		*c = nil
	}
}

// Discover listens for Announcements for the given duration without announcing a relay itself. Each relay is
// reported once, even if it was received multiple times or over both IP versions.
func Discover(timeout time.Duration, ipv4, ipv6 bool) ([]Announcement, error) {
	msg, err := MarshalAnnouncements(nil)
	if err != nil {
		return nil, err
	}

	var (
		wg    sync.WaitGroup
		mutex sync.Mutex
		errs  error
		found = make(map[string]Announcement)
	)

	for _, set := range multicastSets(ipv4, ipv6) {
		if !set.active {
			continue
		}

		wg.Add(1)
		go func(set multicastSet) {
			defer wg.Done()

			discovered, discoverErr := peerdiscovery.Discover(peerdiscovery.Settings{
				Limit:            -1,
				Port:             fmt.Sprintf("%d", port),
				MulticastAddress: set.multicastAddress,
				Payload:          msg,
				Delay:            timeout / 4,
				TimeLimit:        timeout,
				AllowSelf:        true,
				IPVersion:        set.ipVersion,
			})

			mutex.Lock()
			defer mutex.Unlock()

			if discoverErr != nil {
				errs = multierror.Append(errs, discoverErr)
				return
			}

			for _, d := range discovered {
				announcements, parseErr := parseDiscovered(d, set.ipVersion)
				if parseErr != nil {
					log.WithError(parseErr).WithField("peer", d.Address).Debug("Discovery failed to parse package")
					continue
				}
				for _, announcement := range announcements {
					found[announcement.Name] = announcement
				}
			}
		}(set)
	}
	wg.Wait()

	announcements := make([]Announcement, 0, len(found))
	for _, announcement := range found {
		announcements = append(announcements, announcement)
	}
	return announcements, errs
}
