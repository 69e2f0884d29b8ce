package redisqueue

import "github.com/sharedcode/xacoord/internal/xa"

// Producer adapts an already-open Resource to registry.Producer.
type Producer struct {
	bean xa.Bean
	res  *Resource
}

func NewProducer(bean xa.Bean, res *Resource) *Producer {
	return &Producer{bean: bean, res: res}
}

func (p *Producer) UniqueName() string                  { return p.bean.UniqueName }
func (p *Producer) Bean() xa.Bean                       { return p.bean }
func (p *Producer) GetXAResource() (xa.Resource, error) { return p.res, nil }
