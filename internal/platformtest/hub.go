package platformtest

import (
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"edugate/internal/channel"
	"edugate/internal/domain"
)

type peer struct {
	ws      *websocket.Conn
	writeMu sync.Mutex
}

func (p *peer) send(frame channel.Frame) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	return p.ws.WriteJSON(frame)
}

func (s *Server) handleChatHub(w http.ResponseWriter, r *http.Request) {
	s.serveHub(w, r, s.chatPeers, s.handleChatInvoke)
}

func (s *Server) handleNotifyHub(w http.ResponseWriter, r *http.Request) {
	s.serveHub(w, r, s.notifyPeers, s.handleNotifyInvoke)
}

func (s *Server) serveHub(w http.ResponseWriter, r *http.Request, peers map[*peer]struct{}, onInvoke func(*peer, channel.InvokeFrame)) {
	if _, ok := s.verifyBearer(r.Header.Get("Authorization")); !ok {
		writeError(w, http.StatusUnauthorized, "token expired or invalid")
		return
	}
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	p := &peer{ws: ws}
	s.mu.Lock()
	peers[p] = struct{}{}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(peers, p)
		s.mu.Unlock()
		_ = ws.Close()
	}()

	for {
		var frame channel.Frame
		if err := ws.ReadJSON(&frame); err != nil {
			return
		}
		if frame.Invoke != nil {
			onInvoke(p, *frame.Invoke)
		}
	}
}

func (s *Server) handleChatInvoke(p *peer, inv channel.InvokeFrame) {
	args, _ := inv.Args.(map[string]interface{})
	switch inv.Method {
	case "SendMessage":
		_ = p.send(resultOK(inv.ID))
		s.broadcast(s.chatPeers, domain.Event{
			Type: domain.EventChatMessage,
			Payload: map[string]interface{}{
				"conversationId": args["conversationId"],
				"text":           args["text"],
			},
		})
	case "StartTyping", "StopTyping":
		_ = p.send(resultOK(inv.ID))
		s.broadcast(s.chatPeers, domain.Event{
			Type: domain.EventChatTyping,
			Payload: map[string]interface{}{
				"conversationId": args["conversationId"],
				"typing":         inv.Method == "StartTyping",
			},
		})
	case "RequestUnreadCount":
		_ = p.send(resultOK(inv.ID))
		_ = p.send(eventFrame(domain.Event{
			Type:    domain.EventUnreadRequest,
			Payload: map[string]interface{}{"count": 0},
		}))
	default:
		// BroadcastMessageDeleted and anything else this fake does not
		// implement.
		_ = p.send(channel.Frame{Result: &channel.ResultFrame{
			ID:   inv.ID,
			Code: channel.ResultCodeUnsupported,
		}})
	}
}

func (s *Server) handleNotifyInvoke(p *peer, inv channel.InvokeFrame) {
	switch inv.Method {
	case "StartReportJob":
		_ = p.send(resultOK(inv.ID))
		jobID := uuid.NewString()
		go s.runFakeJob(jobID)
	case "RequestUnreadCount":
		_ = p.send(resultOK(inv.ID))
		_ = p.send(eventFrame(domain.Event{
			Type:    domain.EventUnreadCount,
			Payload: map[string]interface{}{"count": 0},
		}))
	default:
		_ = p.send(channel.Frame{Result: &channel.ResultFrame{
			ID:   inv.ID,
			Code: channel.ResultCodeUnsupported,
		}})
	}
}

// runFakeJob walks a started job through every stage and completes it.
func (s *Server) runFakeJob(jobID string) {
	stages := []domain.EventType{
		domain.EventJobPlanning,
		domain.EventJobNavigation,
		domain.EventJobPagination,
		domain.EventJobExtraction,
	}
	for _, stage := range stages {
		for step := 1; step <= 2; step++ {
			s.broadcast(s.notifyPeers, domain.Event{
				Type:    stage,
				JobID:   jobID,
				Payload: map[string]interface{}{"step": step, "total": 2},
			})
		}
	}
	s.broadcast(s.notifyPeers, domain.Event{Type: domain.EventJobCompleted, JobID: jobID})
}

// PushNotification fans a notification event out to every notify peer.
func (s *Server) PushNotification(payload map[string]interface{}) {
	s.broadcast(s.notifyPeers, domain.Event{Type: domain.EventNotification, Payload: payload})
}

// DropHubConnections closes every live hub socket, forcing clients through
// their reconnect path.
func (s *Server) DropHubConnections() {
	s.mu.Lock()
	all := make([]*peer, 0, len(s.chatPeers)+len(s.notifyPeers))
	for p := range s.chatPeers {
		all = append(all, p)
	}
	for p := range s.notifyPeers {
		all = append(all, p)
	}
	s.mu.Unlock()
	for _, p := range all {
		_ = p.ws.Close()
	}
}

func (s *Server) broadcast(peers map[*peer]struct{}, evt domain.Event) {
	s.mu.Lock()
	targets := make([]*peer, 0, len(peers))
	for p := range peers {
		targets = append(targets, p)
	}
	s.mu.Unlock()
	frame := eventFrame(evt)
	for _, p := range targets {
		_ = p.send(frame)
	}
}

func eventFrame(evt domain.Event) channel.Frame {
	e := evt
	return channel.Frame{Event: &e}
}

func resultOK(id string) channel.Frame {
	return channel.Frame{Result: &channel.ResultFrame{ID: id}}
}
