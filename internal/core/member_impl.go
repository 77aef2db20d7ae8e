package core

import "github.com/dkeye/callbridge/internal/domain"

// memberSession implements MemberSession by pairing meta + port.
type memberSession struct {
	meta *domain.Member
	port MediaPort
}

func NewMemberSession(meta *domain.Member, port MediaPort) MemberSession {
	return &memberSession{meta: meta, port: port}
}

func (m *memberSession) Meta() *domain.Member { return m.meta }
func (m *memberSession) Port() MediaPort      { return m.port }
