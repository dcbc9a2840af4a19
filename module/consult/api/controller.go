package api

import (
	"context"
	"strconv"

	"consultchat/middleware"
	midsec "consultchat/middleware/security"
	"consultchat/module/consult/model"
	"consultchat/module/consult/service"
	"consultchat/module/consult/store"
	"consultchat/tools/errs"

	"github.com/gin-gonic/gin"
)

// Roster 当前在线身份
type Roster interface {
	Roster() []model.Identity
}

// PresenceLookup 跨节点在线查询（Redis 镜像）
type PresenceLookup interface {
	Lookup(ctx context.Context, k model.IdentityKey) (nodeID string, online bool, err error)
}

// DoctorPresence GET /doctors/:id/presence 的返回
type DoctorPresence struct {
	DoctorID int64  `json:"doctorId"`
	Online   bool   `json:"online"`
	NodeID   string `json:"nodeId,omitempty"`
}

type DoctorReader interface {
	GetDoctor(ctx context.Context, id int64) (*model.Doctor, error)
}

type Controller struct {
	Rooms   *service.RoomService
	Doctors DoctorReader
	Online  Roster
	// Cluster 为空时只看本节点的在线表
	Cluster PresenceLookup
}

// Register 挂载 REST 路由
func (ctl *Controller) Register(rs middleware.Routes) {
	admin := middleware.RouteOpt{IsAuth: true, Roles: []string{model.RoleAdmin}}
	authed := middleware.RouteOpt{IsAuth: true}

	rs.POST("/rooms", ctl.CreateRoom, admin)
	rs.GET("/rooms", ctl.ListRooms, admin)
	rs.GET("/rooms/mine", ctl.MyRooms, authed)
	rs.GET("/rooms/:id", ctl.GetRoom, middleware.RouteOpt{})
	rs.POST("/rooms/:id/end", ctl.EndRoom, authed)
	rs.GET("/presence", ctl.Presence, authed)
	rs.GET("/doctors/:id", ctl.GetDoctor, middleware.RouteOpt{})
	rs.GET("/doctors/:id/presence", ctl.DoctorPresence, middleware.RouteOpt{})
}

func (ctl *Controller) CreateRoom(c *gin.Context) {
	var req service.CreateRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.Fail(c, errs.ErrBadRequest.WrapMsg("bad body", "cause", err.Error()))
		return
	}
	r, err := ctl.Rooms.Create(c.Request.Context(), req)
	if err != nil {
		middleware.Fail(c, err)
		return
	}
	middleware.OK(c, r)
}

func (ctl *Controller) ListRooms(c *gin.Context) {
	f := store.RoomFilter{Status: model.RoomStatus(c.Query("status"))}
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			middleware.Fail(c, errs.ErrBadRequest.WrapMsg("bad limit"))
			return
		}
		f.Limit = n
	}
	rooms, err := ctl.Rooms.List(c.Request.Context(), f)
	if err != nil {
		middleware.Fail(c, err)
		return
	}
	middleware.OK(c, nonNil(rooms))
}

func (ctl *Controller) MyRooms(c *gin.Context) {
	id, _ := midsec.IdentityFrom(c)
	rooms, err := ctl.Rooms.ListMine(c.Request.Context(), id)
	if err != nil {
		middleware.Fail(c, err)
		return
	}
	middleware.OK(c, nonNil(rooms))
}

func (ctl *Controller) GetRoom(c *gin.Context) {
	r, err := ctl.Rooms.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		middleware.Fail(c, err)
		return
	}
	middleware.OK(c, r)
}

func (ctl *Controller) EndRoom(c *gin.Context) {
	id, _ := midsec.IdentityFrom(c)
	r, err := ctl.Rooms.End(c.Request.Context(), c.Param("id"), id)
	if err != nil {
		middleware.Fail(c, err)
		return
	}
	middleware.OK(c, r)
}

func (ctl *Controller) Presence(c *gin.Context) {
	middleware.OK(c, ctl.Online.Roster())
}

func (ctl *Controller) GetDoctor(c *gin.Context) {
	d, ok := ctl.doctor(c)
	if !ok {
		return
	}
	middleware.OK(c, d.Card())
}

// DoctorPresence tells a waiting patient whether the room's doctor is
// connected anywhere in the cluster.
func (ctl *Controller) DoctorPresence(c *gin.Context) {
	d, ok := ctl.doctor(c)
	if !ok {
		return
	}
	key := model.IdentityKey{Kind: model.KindDoctor, ID: d.UserID}
	out := DoctorPresence{DoctorID: d.ID}
	if ctl.Cluster != nil {
		node, online, err := ctl.Cluster.Lookup(c.Request.Context(), key)
		if err != nil {
			middleware.Fail(c, errs.IO(err, "presence lookup"))
			return
		}
		out.Online, out.NodeID = online, node
	} else {
		for _, id := range ctl.Online.Roster() {
			if id.Key() == key {
				out.Online = true
				break
			}
		}
	}
	middleware.OK(c, out)
}

func (ctl *Controller) doctor(c *gin.Context) (*model.Doctor, bool) {
	n, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		middleware.Fail(c, errs.ErrBadRequest.WrapMsg("bad doctor id"))
		return nil, false
	}
	d, err := ctl.Doctors.GetDoctor(c.Request.Context(), n)
	if err != nil {
		middleware.Fail(c, err)
		return nil, false
	}
	return d, true
}

func nonNil(rs []*model.Room) []*model.Room {
	if rs == nil {
		return []*model.Room{}
	}
	return rs
}
