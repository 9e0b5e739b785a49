package world

import (
	"time"

	"github.com/ByteArena/box2d"
	"github.com/kasuganosora/coopwave/server/game/ai"
	"github.com/kasuganosora/coopwave/server/resource"
)

const (
	// box2d is tuned for metre-sized objects; world units are centimetres.
	unitsPerMeter = 100.0

	velocityIterations = 8
	positionIterations = 3

	trackerDamping = 2.0
	wallThickness  = 50.0
)

// physicsWorld is the box2d simulation behind PhysicsSink. Gravity is zero:
// the arena is seen from the top.
type physicsWorld struct {
	world  box2d.B2World
	bodies map[ai.EntityID]*box2d.B2Body
}

func newPhysicsWorld(layout *resource.ArenaLayout) *physicsWorld {
	p := &physicsWorld{
		world:  box2d.MakeB2World(box2d.MakeB2Vec2(0, 0)),
		bodies: make(map[ai.EntityID]*box2d.B2Body),
	}
	for _, r := range layout.Obstacles {
		p.addStaticBox(r)
	}
	w, h := layout.Size()
	t := wallThickness
	p.addStaticBox(resource.Rect{MinX: -t, MinY: -t, MaxX: w + t, MaxY: 0})
	p.addStaticBox(resource.Rect{MinX: -t, MinY: h, MaxX: w + t, MaxY: h + t})
	p.addStaticBox(resource.Rect{MinX: -t, MinY: 0, MaxX: 0, MaxY: h})
	p.addStaticBox(resource.Rect{MinX: w, MinY: 0, MaxX: w + t, MaxY: h})
	return p
}

func toB2(v ai.Vector3) box2d.B2Vec2 {
	return box2d.MakeB2Vec2(v.X/unitsPerMeter, v.Y/unitsPerMeter)
}

func fromB2(v box2d.B2Vec2) ai.Vector3 {
	return ai.Vector3{X: v.X * unitsPerMeter, Y: v.Y * unitsPerMeter}
}

func (p *physicsWorld) addStaticBox(r resource.Rect) {
	bodydef := box2d.MakeB2BodyDef()
	bodydef.Type = box2d.B2BodyType.B2_staticBody
	c := r.Center()
	bodydef.Position.Set(c.X/unitsPerMeter, c.Y/unitsPerMeter)
	body := p.world.CreateBody(&bodydef)

	shape := box2d.MakeB2PolygonShape()
	shape.SetAsBox((r.MaxX-r.MinX)/2/unitsPerMeter, (r.MaxY-r.MinY)/2/unitsPerMeter)
	body.CreateFixture(&shape, 0.0)
}

// addPawn creates a round dynamic body. Players get no damping because their
// velocity is set directly every tick.
func (p *physicsWorld) addPawn(id ai.EntityID, pos ai.Vector3, radius float64, player bool) {
	bodydef := box2d.MakeB2BodyDef()
	bodydef.Type = box2d.B2BodyType.B2_dynamicBody
	bodydef.Position.Set(pos.X/unitsPerMeter, pos.Y/unitsPerMeter)
	bodydef.AllowSleep = false
	bodydef.FixedRotation = true
	if !player {
		bodydef.LinearDamping = trackerDamping
	}
	body := p.world.CreateBody(&bodydef)

	shape := box2d.MakeB2CircleShape()
	shape.SetRadius(radius / unitsPerMeter)
	fixturedef := box2d.MakeB2FixtureDef()
	fixturedef.Shape = &shape
	fixturedef.Density = 1.0
	if player {
		fixturedef.Density = 20.0
	}
	body.CreateFixtureFromDef(&fixturedef)
	p.bodies[id] = body
}

func (p *physicsWorld) remove(id ai.EntityID) {
	body, ok := p.bodies[id]
	if !ok {
		return
	}
	p.world.DestroyBody(body)
	delete(p.bodies, id)
}

// applyForce pushes a body. With velocityChange the force is read as an
// acceleration and scaled by the body's mass.
func (p *physicsWorld) applyForce(id ai.EntityID, force ai.Vector3, velocityChange bool) {
	body, ok := p.bodies[id]
	if !ok {
		return
	}
	f := toB2(force)
	if velocityChange {
		m := body.GetMass()
		f = box2d.MakeB2Vec2(f.X*m, f.Y*m)
	}
	body.ApplyForce(f, body.GetWorldCenter(), true)
}

func (p *physicsWorld) setVelocity(id ai.EntityID, v ai.Vector3) {
	if body, ok := p.bodies[id]; ok {
		body.SetLinearVelocity(toB2(v))
	}
}

func (p *physicsWorld) teleport(id ai.EntityID, pos ai.Vector3) {
	if body, ok := p.bodies[id]; ok {
		body.SetTransform(toB2(pos), 0)
		body.SetLinearVelocity(box2d.MakeB2Vec2(0, 0))
	}
}

func (p *physicsWorld) position(id ai.EntityID) (ai.Vector3, bool) {
	body, ok := p.bodies[id]
	if !ok {
		return ai.Vector3{}, false
	}
	return fromB2(body.GetPosition()), true
}

func (p *physicsWorld) step(dt time.Duration) {
	p.world.Step(dt.Seconds(), velocityIterations, positionIterations)
}
